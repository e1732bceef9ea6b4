package preview

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

const DefaultRenderApiUrl = "https://api.clipforge.io/v1"

func defaultClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R], 1)
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return apiCallback, c
}

// RenderApi submits finished source documents for rendering. This sits
// outside the realtime channel: one request, one json result describing
// the produced artifact.
type RenderApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string

	accessToken string
}

func NewRenderApi(apiUrl string) *RenderApi {
	return NewRenderApiWithContext(context.Background(), apiUrl)
}

func NewRenderApiWithContext(ctx context.Context, apiUrl string) *RenderApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &RenderApi{
		ctx:    cancelCtx,
		cancel: cancel,
		apiUrl: apiUrl,
	}
}

// attached to api calls that need it
func (self *RenderApi) SetAccessToken(accessToken string) {
	self.accessToken = accessToken
}

type RenderCallback apiCallback[*RenderResult]

type RenderArgs struct {
	Source        *ElementDescriptor `json:"source"`
	Modifications ModificationPatch  `json:"modifications,omitempty"`
	OutputFormat  string             `json:"output_format,omitempty"`
}

type RenderResult struct {
	ArtifactId  string             `json:"artifact_id,omitempty"`
	Url         string             `json:"url,omitempty"`
	Status      string             `json:"status,omitempty"`
	DurationSec float64            `json:"duration,omitempty"`
	Error       *RenderResultError `json:"error,omitempty"`
}

type RenderResultError struct {
	Message string `json:"message"`
}

func (self *RenderApi) Render(render *RenderArgs, callback RenderCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/renders", self.apiUrl),
		render,
		self.accessToken,
		&RenderResult{},
		callback,
	)
}

func (self *RenderApi) RenderSync(render *RenderArgs) (*RenderResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/renders", self.apiUrl),
		render,
		self.accessToken,
		&RenderResult{},
		NewNoopApiCallback[*RenderResult](),
	)
}

func (self *RenderApi) Close() {
	self.cancel()
}

func post[R any](ctx context.Context, url string, args any, accessToken string, result R, callback apiCallback[R]) (R, error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "application/json")

	if accessToken != "" {
		auth := fmt.Sprintf("Bearer %s", accessToken)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if http.StatusOK != r.StatusCode {
		// the response body is the error message
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		err = errors.New(errorMessage)
		callback.Result(result, err)
		return result, err
	}

	if err != nil {
		callback.Result(result, err)
		return result, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}
