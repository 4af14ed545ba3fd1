package media

import (
	"fmt"
	"log/slog"
	"time"
)

// Invoker runs commands in order, feeding each the output of the previous one.
type Invoker struct {
	commands []Command
}

func NewInvoker(commands ...Command) *Invoker {
	return &Invoker{commands: commands}
}

// NewInvokerFromConfig creates the configured commands from registry.
func NewInvokerFromConfig(registry *Registry, configs []CommandConfig) (*Invoker, error) {
	commands := make([]Command, 0, len(configs))
	for i, cfg := range configs {
		command, err := registry.Create(cfg.Name, cfg.Params)
		if err != nil {
			return nil, fmt.Errorf("command at index %d: %w", i, err)
		}
		commands = append(commands, command)
	}
	return NewInvoker(commands...), nil
}

func (i *Invoker) Len() int {
	return len(i.commands)
}

func (i *Invoker) Execute(imageData []byte) ([]byte, error) {
	start := time.Now()
	current := imageData
	for idx, command := range i.commands {
		commandStart := time.Now()
		out, err := command.Execute(current)
		if err != nil {
			slog.Error("media command failed",
				"index", idx, "command_name", command.Name(), "input_size_bytes", len(current), "error", err)
			return nil, fmt.Errorf("command %s (index %d) failed: %w", command.Name(), idx, err)
		}
		slog.Debug("media command completed",
			"index", idx,
			"command_name", command.Name(),
			"duration_ms", time.Since(commandStart).Milliseconds(),
			"input_size_bytes", len(current),
			"output_size_bytes", len(out))
		current = out
	}
	slog.Debug("media pipeline completed",
		"command_count", len(i.commands),
		"total_duration_ms", time.Since(start).Milliseconds(),
		"final_size_bytes", len(current))
	return current, nil
}
