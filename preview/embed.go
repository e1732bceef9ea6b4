package preview

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// EmbedMode selects the peer surface variant.
type EmbedMode string

const (
	EmbedModePlayer      EmbedMode = "player"
	EmbedModeInteractive EmbedMode = "interactive"
)

const DefaultEmbedEndpoint = "https://embed.clipforge.io/v1"

type EmbedSettings struct {
	Endpoint string
}

func DefaultEmbedSettings() *EmbedSettings {
	return &EmbedSettings{
		Endpoint: DefaultEmbedEndpoint,
	}
}

// AccessTokenClaims is the subset of embed token claims the controller
// cares about. The token is not verified locally; the peer endpoint owns
// verification. Parsing up front just rejects garbage before a frame is
// ever created.
type AccessTokenClaims struct {
	ProjectId string
	ExpiresAt time.Time
}

func ParseAccessTokenUnverified(accessToken string) (*AccessTokenClaims, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(accessToken, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	accessTokenClaims := &AccessTokenClaims{}
	if projectId, ok := claims["project_id"].(string); ok {
		accessTokenClaims.ProjectId = projectId
	}
	if expiresAt, err := claims.GetExpirationTime(); err == nil && expiresAt != nil {
		accessTokenClaims.ExpiresAt = expiresAt.Time
	}
	return accessTokenClaims, nil
}

// Embed is the hosting boundary: the full-bleed frame injected into a
// host-provided container, pointing at the fixed remote endpoint. The
// frame starts hidden and becomes visible only after content loads.
type Embed struct {
	mode        EmbedMode
	accessToken string
	claims      *AccessTokenClaims
	settings    *EmbedSettings

	stateLock sync.Mutex
	visible   bool
}

func NewEmbedWithDefaults(mode EmbedMode, accessToken string) (*Embed, error) {
	return NewEmbed(mode, accessToken, DefaultEmbedSettings())
}

func NewEmbed(mode EmbedMode, accessToken string, settings *EmbedSettings) (*Embed, error) {
	switch mode {
	case EmbedModePlayer, EmbedModeInteractive:
	default:
		return nil, fmt.Errorf("unknown embed mode %q", mode)
	}

	claims, err := ParseAccessTokenUnverified(accessToken)
	if err != nil {
		return nil, fmt.Errorf("embed access token: %s", err)
	}

	return &Embed{
		mode:        mode,
		accessToken: accessToken,
		claims:      claims,
		settings:    settings,
	}, nil
}

func (self *Embed) Mode() EmbedMode {
	return self.mode
}

func (self *Embed) Claims() *AccessTokenClaims {
	return self.claims
}

// Url is the frame endpoint parameterized by mode and token.
func (self *Embed) Url() string {
	values := url.Values{}
	values.Set("mode", string(self.mode))
	values.Set("token", self.accessToken)
	return fmt.Sprintf("%s?%s", self.settings.Endpoint, values.Encode())
}

// ChannelUrl is the websocket side of the same endpoint.
func (self *Embed) ChannelUrl() string {
	u, err := url.Parse(self.Url())
	if err != nil {
		return self.Url()
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	return u.String()
}

func (self *Embed) Visible() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.visible
}

func (self *Embed) setVisible(visible bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.visible = visible
}
