package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/docopt/docopt-go"
	"golang.org/x/term"

	"github.com/clipforge/preview/preview"
)

const PreviewCtlVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Preview control.

Drives an embedded rendering peer over its websocket channel.
The default endpoints are:
    embed_url: https://embed.clipforge.io/v1
    api_url: https://api.clipforge.io/v1

The access token is read from --token, the PREVIEW_TOKEN environment
variable, or an interactive prompt, in that order.

Usage:
    previewctl load [--embed_url=<embed_url>] [--token=<token>]
        --template=<template_id>
    previewctl source [--embed_url=<embed_url>] [--token=<token>]
        <source_file>
    previewctl play [--embed_url=<embed_url>] [--token=<token>]
    previewctl pause [--embed_url=<embed_url>] [--token=<token>]
    previewctl seek [--embed_url=<embed_url>] [--token=<token>] <time>
    previewctl render [--api_url=<api_url>] [--token=<token>]
        <source_file>

Options:
    -h --help                  Show this screen.
    --version                  Show version.
    --embed_url=<embed_url>
    --api_url=<api_url>
    --token=<token>            Embed access token.
    --template=<template_id>   Stored template id.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], PreviewCtlVersion)
	if err != nil {
		panic(err)
	}

	if load_, _ := opts.Bool("load"); load_ {
		load(opts)
	} else if source_, _ := opts.Bool("source"); source_ {
		source(opts)
	} else if play_, _ := opts.Bool("play"); play_ {
		play(opts)
	} else if pause_, _ := opts.Bool("pause"); pause_ {
		pause(opts)
	} else if seek_, _ := opts.Bool("seek"); seek_ {
		seek(opts)
	} else if render_, _ := opts.Bool("render"); render_ {
		render(opts)
	}
}

func accessToken(opts docopt.Opts) string {
	if token, err := opts.String("--token"); err == nil && token != "" {
		return token
	}
	if token := os.Getenv("PREVIEW_TOKEN"); token != "" {
		return token
	}
	fmt.Print("Access token: ")
	tokenBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		Err.Fatalf("Could not read access token (%s).", err)
	}
	return string(tokenBytes)
}

func newController(ctx context.Context, opts docopt.Opts, mode preview.EmbedMode) *preview.Controller {
	settings := preview.DefaultEmbedSettings()
	if embedUrl, err := opts.String("--embed_url"); err == nil && embedUrl != "" {
		settings.Endpoint = embedUrl
	}

	embed, err := preview.NewEmbed(mode, accessToken(opts), settings)
	if err != nil {
		Err.Fatalf("%s", err)
	}

	channel, err := preview.NewWebSocketChannelWithDefaults(ctx, embed.ChannelUrl())
	if err != nil {
		Err.Fatalf("Could not connect to the peer (%s).", err)
	}

	return preview.NewController(ctx, channel, embed, nil)
}

func readSource(opts docopt.Opts) *preview.ElementDescriptor {
	sourceFile, _ := opts.String("<source_file>")
	sourceJson, err := os.ReadFile(sourceFile)
	if err != nil {
		Err.Fatalf("Could not read source file (%s).", err)
	}
	document := &preview.ElementDescriptor{}
	if err := json.Unmarshal(sourceJson, document); err != nil {
		Err.Fatalf("Invalid source document (%s).", err)
	}
	return document
}

func printState(state *preview.ElementState) {
	for _, node := range preview.Flatten(state) {
		Out.Printf("%s track=%d type=%s", node.Source.Id, node.Track, node.Source.Type)
	}
}

func load(opts docopt.Opts) {
	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	templateId, _ := opts.String("--template")

	controller := newController(cancelCtx, opts, preview.EmbedModeInteractive)
	defer controller.Close()

	state, err := controller.LoadTemplate(cancelCtx, templateId)
	if err != nil {
		Err.Fatalf("%s", err)
	}
	printState(state)
}

func source(opts docopt.Opts) {
	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	document := readSource(opts)

	controller := newController(cancelCtx, opts, preview.EmbedModeInteractive)
	defer controller.Close()

	state, err := controller.SetSource(cancelCtx, document, false)
	if err != nil {
		Err.Fatalf("%s", err)
	}
	printState(state)
}

func play(opts docopt.Opts) {
	cancelCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	controller := newController(cancelCtx, opts, preview.EmbedModePlayer)
	defer controller.Close()

	if err := controller.Play(cancelCtx); err != nil {
		Err.Fatalf("%s", err)
	}
	Out.Printf("play requested")
}

func pause(opts docopt.Opts) {
	cancelCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	controller := newController(cancelCtx, opts, preview.EmbedModePlayer)
	defer controller.Close()

	if err := controller.Pause(cancelCtx); err != nil {
		Err.Fatalf("%s", err)
	}
	Out.Printf("pause requested")
}

func seek(opts docopt.Opts) {
	cancelCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	timeStr, _ := opts.String("<time>")
	seekTime, err := strconv.ParseFloat(timeStr, 64)
	if err != nil {
		Err.Fatalf("Invalid time (%s).", err)
	}

	controller := newController(cancelCtx, opts, preview.EmbedModePlayer)
	defer controller.Close()

	if err := controller.SetTime(cancelCtx, seekTime); err != nil {
		Err.Fatalf("%s", err)
	}
	Out.Printf("seek to %0.3fs requested", seekTime)
}

func render(opts docopt.Opts) {
	document := readSource(opts)

	apiUrl := preview.DefaultRenderApiUrl
	if apiUrl_, err := opts.String("--api_url"); err == nil && apiUrl_ != "" {
		apiUrl = apiUrl_
	}

	api := preview.NewRenderApi(apiUrl)
	defer api.Close()
	api.SetAccessToken(accessToken(opts))

	result, err := api.RenderSync(&preview.RenderArgs{
		Source: document,
	})
	if err != nil {
		Err.Fatalf("%s", err)
	}
	if result.Error != nil {
		Err.Fatalf("Render failed (%s).", result.Error.Message)
	}
	Out.Printf("%s %s %s", result.ArtifactId, result.Status, result.Url)
}
