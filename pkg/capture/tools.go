package capture

import (
	"context"
	"fmt"

	"github.com/visor-agent/visor/pkg/agent"
	"github.com/visor-agent/visor/pkg/tools"
	"github.com/visor-agent/visor/pkg/verify"
)

// RegisterScreenTools registers the UI action tools backed by the screen.
func RegisterScreenTools(registry *tools.Registry, screen *Screen) error {
	defs := []tools.Definition{
		{
			Name:        "navigate",
			Description: "Load a URL in the browser",
			Parameters: []tools.Parameter{
				{Name: "url", Type: "string", Description: "Absolute URL to load", Required: true},
			},
			Kind:    verify.ActionLaunch,
			Handler: navigateHandler(screen),
		},
		{
			Name:        "click",
			Description: "Click the element matching a CSS selector",
			Parameters: []tools.Parameter{
				{Name: "selector", Type: "string", Description: "CSS selector of the target element", Required: true},
				{Name: "label", Type: "string", Description: "Human-readable name of the target, e.g. 'Save button'"},
			},
			Kind:    verify.ActionClick,
			Handler: clickHandler(screen),
		},
		{
			Name:        "type",
			Description: "Type text into the element matching a CSS selector",
			Parameters: []tools.Parameter{
				{Name: "selector", Type: "string", Description: "CSS selector of the input element", Required: true},
				{Name: "text", Type: "string", Description: "Text to type", Required: true},
			},
			Kind:    verify.ActionType,
			Handler: typeHandler(screen),
		},
		{
			Name:        "scroll",
			Description: "Scroll the page by pixel offsets",
			Parameters: []tools.Parameter{
				{Name: "dx", Type: "number", Description: "Horizontal offset in pixels", Default: 0},
				{Name: "dy", Type: "number", Description: "Vertical offset in pixels", Default: 400},
			},
			Kind:    verify.ActionScroll,
			Handler: scrollHandler(screen),
		},
		{
			Name:        "hotkey",
			Description: "Press a named key, e.g. enter or escape",
			Parameters: []tools.Parameter{
				{Name: "keys", Type: "string", Description: "Key name to press", Required: true},
			},
			Kind:    verify.ActionHotkey,
			Handler: hotkeyHandler(screen),
		},
		{
			Name:        "read_text",
			Description: "Read the visible text of the current page",
			ReadOnly:    true,
			Handler:     readTextHandler(screen),
		},
		{
			Name:        "screenshot",
			Description: "Capture a screenshot of the current page",
			ReadOnly:    true,
			Handler:     screenshotHandler(screen),
		},
	}

	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			return fmt.Errorf("register %s: %w", def.Name, err)
		}
	}
	return nil
}

func navigateHandler(screen *Screen) tools.Handler {
	return func(ctx context.Context, args agent.Value, tctx *tools.Context) (agent.Value, error) {
		url := args.StringField("url", "")
		if url == "" {
			return agent.Null(), fmt.Errorf("url is required")
		}
		if err := screen.Navigate(ctx, url); err != nil {
			return agent.Null(), err
		}
		return agent.Object(map[string]agent.Value{
			"action": agent.String("navigate"),
			"url":    agent.String(url),
		}), nil
	}
}

func clickHandler(screen *Screen) tools.Handler {
	return func(ctx context.Context, args agent.Value, tctx *tools.Context) (agent.Value, error) {
		selector := args.StringField("selector", "")
		if selector == "" {
			return agent.Null(), fmt.Errorf("selector is required")
		}
		if err := screen.Click(ctx, selector); err != nil {
			return agent.Null(), err
		}
		return agent.Object(map[string]agent.Value{
			"action":   agent.String("click"),
			"selector": agent.String(selector),
		}), nil
	}
}

func typeHandler(screen *Screen) tools.Handler {
	return func(ctx context.Context, args agent.Value, tctx *tools.Context) (agent.Value, error) {
		selector := args.StringField("selector", "")
		text := args.StringField("text", "")
		if selector == "" {
			return agent.Null(), fmt.Errorf("selector is required")
		}
		if err := screen.Type(ctx, selector, text); err != nil {
			return agent.Null(), err
		}
		return agent.Object(map[string]agent.Value{
			"action":   agent.String("type"),
			"selector": agent.String(selector),
			"length":   agent.Number(float64(len(text))),
		}), nil
	}
}

func scrollHandler(screen *Screen) tools.Handler {
	return func(ctx context.Context, args agent.Value, tctx *tools.Context) (agent.Value, error) {
		dx := args.NumberField("dx", 0)
		dy := args.NumberField("dy", 400)
		if err := screen.Scroll(ctx, dx, dy); err != nil {
			return agent.Null(), err
		}
		return agent.Object(map[string]agent.Value{
			"action": agent.String("scroll"),
			"dx":     agent.Number(dx),
			"dy":     agent.Number(dy),
		}), nil
	}
}

func hotkeyHandler(screen *Screen) tools.Handler {
	return func(ctx context.Context, args agent.Value, tctx *tools.Context) (agent.Value, error) {
		keys := args.StringField("keys", "")
		if keys == "" {
			return agent.Null(), fmt.Errorf("keys is required")
		}
		if err := screen.Hotkey(ctx, keys); err != nil {
			return agent.Null(), err
		}
		return agent.Object(map[string]agent.Value{
			"action": agent.String("hotkey"),
			"keys":   agent.String(keys),
		}), nil
	}
}

func readTextHandler(screen *Screen) tools.Handler {
	return func(ctx context.Context, args agent.Value, tctx *tools.Context) (agent.Value, error) {
		text, err := screen.ReadText(ctx)
		if err != nil {
			return agent.Null(), err
		}
		return agent.String(text), nil
	}
}

func screenshotHandler(screen *Screen) tools.Handler {
	return func(ctx context.Context, args agent.Value, tctx *tools.Context) (agent.Value, error) {
		cap, err := screen.CaptureAfterAction(ctx, "screenshot tool")
		if err != nil {
			return agent.Null(), err
		}
		return agent.Object(map[string]agent.Value{
			"media_type": agent.String(cap.MediaType),
			"bytes":      agent.Number(float64(len(cap.Image))),
			"changed":    agent.Bool(cap.Changed),
		}), nil
	}
}
