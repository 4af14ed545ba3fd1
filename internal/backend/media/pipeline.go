package media

import (
	"fmt"
)

const (
	DefaultThumbnailWidth  = 320
	DefaultThumbnailHeight = 320
)

// PipelineConfig is the yaml configuration of generated image post-processing.
type PipelineConfig struct {
	Commands        []CommandConfig `yaml:"commands"`
	ThumbnailWidth  int             `yaml:"thumbnailWidth"`
	ThumbnailHeight int             `yaml:"thumbnailHeight"`
}

// Pipeline normalizes generated images to PNG and derives thumbnails.
type Pipeline struct {
	normalize *Invoker
	thumbnail Command
}

// NewPipeline builds the pipeline. The configured commands always run after a
// PNG conversion so that every stored output is PNG.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	converter, err := NewPngConverterCommand(nil)
	if err != nil {
		return nil, err
	}
	configured, err := NewInvokerFromConfig(DefaultRegistry, cfg.Commands)
	if err != nil {
		return nil, fmt.Errorf("invalid media pipeline: %w", err)
	}

	w, h := cfg.ThumbnailWidth, cfg.ThumbnailHeight
	if w <= 0 {
		w = DefaultThumbnailWidth
	}
	if h <= 0 {
		h = DefaultThumbnailHeight
	}
	thumbnail, err := NewThumbnailCommand(w, h)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		normalize: NewInvoker(append([]Command{converter}, configured.commands...)...),
		thumbnail: thumbnail,
	}, nil
}

// Process returns the normalized PNG and its thumbnail.
func (p *Pipeline) Process(imageData []byte) (output, thumbnail []byte, err error) {
	output, err = p.normalize.Execute(imageData)
	if err != nil {
		return nil, nil, err
	}
	thumbnail, err = p.thumbnail.Execute(output)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create thumbnail: %w", err)
	}
	return output, thumbnail, nil
}

// ValidateCommands checks names and uniqueness of configured commands.
func ValidateCommands(commands []CommandConfig) error {
	seen := make(map[string]bool, len(commands))
	for i, cmd := range commands {
		if cmd.Name == "" {
			return fmt.Errorf("command at index %d has empty name", i)
		}
		if seen[cmd.Name] {
			return fmt.Errorf("duplicate command name: %s", cmd.Name)
		}
		seen[cmd.Name] = true
	}
	return nil
}
