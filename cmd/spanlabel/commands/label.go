package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/spanlabel/internal/fastpath"
	"github.com/jmylchreest/spanlabel/internal/llm"
	"github.com/jmylchreest/spanlabel/internal/logger"
	"github.com/jmylchreest/spanlabel/internal/output"
	"github.com/jmylchreest/spanlabel/pkg/labeler"
	"github.com/jmylchreest/spanlabel/pkg/span"
)

// wrappedResult wraps a labeling result with call metadata.
type wrappedResult struct {
	Metadata resultMetadata `json:"_metadata"`
	Result   span.Result    `json:"result"`
}

type resultMetadata struct {
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	InputWords int    `json:"input_words"`
	DurationMs int64  `json:"duration_ms"`
}

var labelCmd = &cobra.Command{
	Use:   "label",
	Short: "Extract labeled spans from text",
	Long: `Label spans in free-form text using the hybrid pipeline.

Text can come from --text, --file, or stdin. Output lists each span's
text, byte offsets, role, and confidence.

Examples:
  # From a file
  spanlabel label -f prompt.txt

  # Inline text with a confidence floor
  spanlabel label -t "aerial view of a city street at night" --min-confidence 0.7

  # Custom role taxonomy
  spanlabel label -f prompt.txt --roles taxonomy.yaml`,
	RunE: runLabel,
}

func init() {
	rootCmd.AddCommand(labelCmd)

	flags := labelCmd.Flags()

	// Input
	flags.StringP("text", "t", "", "text to label")
	flags.StringP("file", "f", "", "read text from file (- for stdin)")
	flags.String("max-input-size", "256KB", "max input size (e.g. 64KB, 1MB, 0=unlimited)")

	// LLM settings
	flags.StringP("provider", "p", "", "oracle provider: anthropic, openai, openrouter, ollama (auto-detects from env vars)")
	flags.StringP("model", "m", "", "model name (provider-specific)")
	flags.StringP("api-key", "k", "", "API key (or use env var)")
	flags.String("base-url", "", "custom API base URL")
	flags.Duration("timeout", 60*time.Second, "oracle request timeout")

	// Labeling options
	flags.Int("max-spans", 60, "maximum spans in the result")
	flags.Float64("min-confidence", 0, "drop spans below this confidence")
	flags.Bool("enable-repair", false, "send one repair round to the oracle on validation failure")
	flags.Bool("allow-overlap", false, "permit overlapping spans")
	flags.Int("non-technical-word-limit", 8, "flag non-technical spans longer than this many words (0=off)")
	flags.String("template-version", "v1", "prompt template version recorded in result meta")
	flags.String("roles", "", "path to a YAML role taxonomy (default: built-in)")
	flags.Bool("no-fast-path", false, "skip the deterministic extractor, always use the oracle")

	// Chunking
	flags.Int("max-words-per-chunk", 300, "word threshold above which input is chunked")
	flags.Int("max-concurrent-chunks", 3, "chunk worker pool size")
	flags.Bool("serial-chunks", false, "process chunks serially")

	// Output
	flags.StringP("output", "o", "", "output file (default: stdout)")
	flags.String("format", "json", "output format: json, jsonl, yaml")
	flags.Bool("include-metadata", false, "wrap output with _metadata and result keys")
}

func runLabel(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()

	logger.Init(logger.Options{
		Debug: viper.GetBool("debug"),
		Quiet: viper.GetBool("quiet"),
	})

	text, err := readInput(cmd)
	if err != nil {
		logError("%v", err)
		return err
	}

	maxSize, _ := flags.GetString("max-input-size")
	if limit, perr := humanize.ParseBytes(maxSize); perr == nil && limit > 0 && uint64(len(text)) > limit {
		err := fmt.Errorf("input is %s, over the %s limit", humanize.Bytes(uint64(len(text))), maxSize)
		logError("%v", err)
		return err
	}

	provider, err := buildProvider(cmd)
	if err != nil {
		logError("%v", err)
		return err
	}

	roles := span.DefaultRoles()
	if rolesPath, _ := flags.GetString("roles"); rolesPath != "" {
		data, rerr := os.ReadFile(rolesPath)
		if rerr != nil {
			logError("failed to read taxonomy: %v", rerr)
			return rerr
		}
		roles, rerr = span.RoleSetFromYAML(data)
		if rerr != nil {
			logError("%v", rerr)
			return rerr
		}
	}

	cfg := labeler.DefaultConfig()
	cfg.MaxWordsPerChunk, _ = flags.GetInt("max-words-per-chunk")
	cfg.MaxConcurrentChunks, _ = flags.GetInt("max-concurrent-chunks")
	if serial, _ := flags.GetBool("serial-chunks"); serial {
		cfg.ProcessChunksInParallel = false
	}

	lopts := []labeler.Option{
		labeler.WithConfig(cfg),
		labeler.WithRoles(roles),
	}
	if noFast, _ := flags.GetBool("no-fast-path"); !noFast {
		lopts = append(lopts, labeler.WithFastExtractor(fastpath.DefaultLexicon()))
	}

	opts := span.DefaultOptions()
	opts.MaxSpans, _ = flags.GetInt("max-spans")
	opts.MinConfidence, _ = flags.GetFloat64("min-confidence")
	opts.EnableRepair, _ = flags.GetBool("enable-repair")
	opts.TemplateVersion, _ = flags.GetString("template-version")
	opts.Policy.AllowOverlap, _ = flags.GetBool("allow-overlap")
	opts.Policy.NonTechnicalWordLimit, _ = flags.GetInt("non-technical-word-limit")

	// Ctrl-C cancels in-flight oracle calls and outstanding chunks.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l := labeler.New(provider, lopts...)

	logInfo("Labeling %d words...", span.CountWords(text))
	start := time.Now()
	result, err := l.LabelSpans(ctx, text, opts)
	if err != nil {
		logError("%v", err)
		return err
	}
	elapsed := time.Since(start)
	logInfo("Found %d spans in %s", len(result.Spans), elapsed.Round(time.Millisecond))

	return writeResult(cmd, result, provider, text, elapsed)
}

// readInput resolves the text source: --text, --file, or stdin.
func readInput(cmd *cobra.Command) (string, error) {
	flags := cmd.Flags()

	if text, _ := flags.GetString("text"); text != "" {
		return text, nil
	}

	file, _ := flags.GetString("file")
	if file == "" || file == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		if strings.TrimSpace(string(data)) == "" {
			return "", fmt.Errorf("no input: pass --text, --file, or pipe text on stdin")
		}
		return string(data), nil
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", file, err)
	}
	return string(data), nil
}

// buildProvider resolves the oracle backend from flags and environment.
func buildProvider(cmd *cobra.Command) (llm.Provider, error) {
	flags := cmd.Flags()

	name, _ := flags.GetString("provider")
	apiKey, _ := flags.GetString("api-key")
	if apiKey == "" {
		apiKey = viper.GetString("api_key")
	}
	if name == "" {
		detected, detectedKey := llm.DetectProvider()
		name = detected
		if apiKey == "" {
			apiKey = detectedKey
		}
		logInfo("Using provider: %s", name)
	}

	cfg := llm.DefaultProviderConfig()
	cfg.APIKey = apiKey
	cfg.Model, _ = flags.GetString("model")
	cfg.BaseURL, _ = flags.GetString("base-url")
	cfg.Timeout, _ = flags.GetDuration("timeout")
	if cfg.Model == "" {
		cfg.Model = llm.GetDefaultModel(name)
	}

	return llm.NewProvider(name, cfg)
}

// writeResult serializes the result in the requested format.
func writeResult(cmd *cobra.Command, result span.Result, provider llm.Provider, text string, elapsed time.Duration) error {
	flags := cmd.Flags()

	dest := os.Stdout
	if path, _ := flags.GetString("output"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		dest = f
	}

	format, _ := flags.GetString("format")
	w, err := output.NewWriter(dest, output.Format(format))
	if err != nil {
		return err
	}

	var payload any = result
	if withMeta, _ := flags.GetBool("include-metadata"); withMeta {
		model, _ := flags.GetString("model")
		payload = wrappedResult{
			Metadata: resultMetadata{
				Provider:   provider.Name(),
				Model:      model,
				InputWords: span.CountWords(text),
				DurationMs: elapsed.Milliseconds(),
			},
			Result: result,
		}
	}

	if err := w.Write(payload); err != nil {
		return err
	}
	return w.Close()
}
