package verify

import (
	"fmt"
	"strings"
)

// expectationPrompt builds the judge prompt for one action. Each kind has
// its own expected-outcome description so the judge looks for the right
// evidence.
func expectationPrompt(action Action) string {
	expected := expectedOutcome(action)

	var sb strings.Builder
	sb.WriteString("You are verifying the effect of a UI automation action from a screenshot taken just after the action.\n")
	sb.WriteString("Action: ")
	sb.WriteString(action.Summary)
	sb.WriteString("\nExpected outcome: ")
	sb.WriteString(expected)
	sb.WriteString("\nRespond with only a JSON object: ")
	sb.WriteString(`{"success": bool, "confidence": number between 0 and 1, "observation": "what you see", "suggestion": "what to try if it failed"}`)
	return sb.String()
}

func expectedOutcome(action Action) string {
	target := action.Args.StringField("label", action.Args.StringField("selector", action.Args.StringField("target", "")))

	switch action.Kind {
	case ActionClick:
		if target != "" {
			return fmt.Sprintf("the element %q reacted to the click: it is pressed, selected, or triggered a visible state change such as a new view or highlight", target)
		}
		return "something on screen visibly reacted to the click"
	case ActionType:
		text := action.Args.StringField("text", "")
		if text != "" {
			return fmt.Sprintf("the text %q now appears in the focused input field", text)
		}
		return "typed text now appears in the focused input field"
	case ActionScroll:
		return "the visible content shifted in the scroll direction"
	case ActionHotkey:
		keys := action.Args.StringField("keys", "")
		if keys != "" {
			return fmt.Sprintf("the shortcut %q took effect: a menu, dialog, or mode change is visible", keys)
		}
		return "the keyboard shortcut produced a visible effect"
	case ActionLaunch:
		app := action.Args.StringField("app", target)
		if app != "" {
			return fmt.Sprintf("the application %q is now open and frontmost", app)
		}
		return "the launched application is now open and frontmost"
	case ActionMenu:
		if target != "" {
			return fmt.Sprintf("the menu item %q was selected and its menu closed or its action took effect", target)
		}
		return "the menu item was selected and its action took effect"
	case ActionDialog:
		return "the dialog was handled: it closed or advanced to the expected state"
	case ActionDrag:
		return "the dragged element is now at the destination position"
	default:
		return "the action's intended effect is visible on screen"
	}
}
