package main

import (
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"chatflow/internal/bus"
	"chatflow/internal/oauth"
	"chatflow/internal/templating"
	"chatflow/internal/trigger"
	"chatflow/internal/twitch"
	"chatflow/internal/variables"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		fmt.Println("Usage: chatflowctl <command> [options]")
		fmt.Println("\nCommands:")
		fmt.Println("  triggers           List available trigger types")
		fmt.Println("  example <code>     Generate an example flow definition for a trigger")
		os.Exit(1)
	}

	registry := buildRegistry()

	switch args[0] {
	case "triggers":
		listTriggers(registry)
	case "example":
		if len(args) != 2 {
			log.Fatal("Usage: chatflowctl example <trigger-code>")
		}
		if err := printExample(registry, args[1]); err != nil {
			log.Fatalf("Failed to generate example: %v", err)
		}
	default:
		log.Fatalf("Unknown command: %s", args[0])
	}
}

// buildRegistry assembles the full trigger catalog. The triggers are only
// inspected for their definitions, so inert dependencies suffice.
func buildRegistry() *trigger.Registry {
	store := variables.NewStore()
	logger := zap.NewNop()
	auth := oauth.NewManager(store, bus.New(), nil, nil, logger, oauth.Config{Context: twitch.Context})
	processor := templating.NewProcessor(store)
	client := twitch.NewMemoryClient()

	registry := trigger.NewRegistry()
	registry.Register(trigger.NewChatMessageTrigger(logger, processor, auth, client), trigger.DecodeChatMessageConfig)
	registry.Register(trigger.NewWhisperTrigger(logger, auth, client), trigger.DecodeWhisperConfig)
	return registry
}

func listTriggers(registry *trigger.Registry) {
	for _, def := range registry.Definitions() {
		fmt.Printf("%s (v%s)\n", def.Code, def.Version)
		fmt.Printf("  Name:        %s\n", def.Name)
		fmt.Printf("  Category:    %s\n", def.Category)
		fmt.Printf("  Description: %s\n", def.Description)
		fmt.Println("  Outputs:")
		for _, key := range def.Outputs {
			fmt.Printf("    - %s\n", key.Name)
		}
		fmt.Println()
	}
}

func printExample(registry *trigger.Registry, code string) error {
	if _, err := registry.Get(code); err != nil {
		return err
	}

	example := exampleFlow(code)
	data, err := yaml.Marshal(example)
	if err != nil {
		return fmt.Errorf("failed to marshal example flow: %w", err)
	}
	fmt.Print(string(data))
	return nil
}

// exampleFlow returns a documented starting point for a flow definition of
// the given trigger type, in the shape the daemon's config file expects.
func exampleFlow(code string) map[string]any {
	flow := map[string]any{
		"name":    "example flow",
		"trigger": code,
		"enabled": true,
	}
	switch code {
	case trigger.ChatMessageTriggerCode:
		flow["config"] = map[string]any{
			"channel":           "somechannel",
			"minimum_user_type": "viewer",
			"match_type":        "starts-with",
			"match_text":        "!hello",
		}
	case trigger.WhisperTriggerCode:
		flow["config"] = map[string]any{
			"match_type": "exact",
			"match_text": "!status",
		}
	}
	return map[string]any{"flows": []any{flow}}
}
