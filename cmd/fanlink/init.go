// ABOUTME: Interactive config file generation for fanlink init
// ABOUTME: Prompts for each section and writes a YAML config the loader accepts

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/2389/fanlink/internal/config"
)

// initAnswers holds the values collected by runInit
type initAnswers struct {
	HTTPAddr    string
	BackendURL  string
	MaxInFlight int
	LiveTitle   string
	LiveHost    string
	Summary     string
	ArchivePath string
	LogLevel    string
	LogFormat   string
}

func defaultArchivePath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join("data", "transcripts.db")
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "fanlink", "transcripts.db")
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("fanlink configuration setup")
	fmt.Println("===========================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", config.DefaultPath())

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	var a initAnswers

	fmt.Println("\n--- Server ---")
	a.HTTPAddr = prompt(reader, "HTTP address", "127.0.0.1:8080")

	fmt.Println("\n--- Backend ---")
	a.BackendURL = prompt(reader, "Backend base URL", "http://127.0.0.1:8000")
	a.MaxInFlight = promptPositiveInt(reader, "Concurrent turns per conversation", 1)

	fmt.Println("\n--- Live Session ---")
	a.LiveTitle = prompt(reader, "Session title", "Live Q&A")
	a.LiveHost = prompt(reader, "Host name", "")
	a.Summary = prompt(reader, "Summary schedule (cron or off)", "@every 30s")

	fmt.Println("\n--- Archive ---")
	if isYes(prompt(reader, "Archive closed conversations?", "yes")) {
		a.ArchivePath = prompt(reader, "SQLite database path", defaultArchivePath())
	}

	fmt.Println("\n--- Logging ---")
	a.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	a.LogFormat = prompt(reader, "Log format (text/json)", "text")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.Create(outputFile)
	if err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	if err := writeConfig(f, a); err != nil {
		f.Close()
		return fmt.Errorf("writing config file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  FANLINK_CONFIG=%s fanlink serve\n", outputFile)

	return nil
}

// writeConfig renders the answers as YAML
func writeConfig(w io.Writer, a initAnswers) error {
	var b strings.Builder
	b.WriteString("# fanlink configuration\n")
	b.WriteString("# Generated by fanlink init\n\n")

	b.WriteString("server:\n")
	fmt.Fprintf(&b, "  http_addr: %q\n\n", a.HTTPAddr)

	b.WriteString("backend:\n")
	fmt.Fprintf(&b, "  base_url: %q\n", a.BackendURL)
	b.WriteString("  timeout: \"60s\"\n\n")

	b.WriteString("conversation:\n")
	fmt.Fprintf(&b, "  max_in_flight: %d\n\n", a.MaxInFlight)

	b.WriteString("live:\n")
	fmt.Fprintf(&b, "  title: %q\n", a.LiveTitle)
	fmt.Fprintf(&b, "  host: %q\n", a.LiveHost)
	fmt.Fprintf(&b, "  summary_schedule: %q\n\n", a.Summary)

	if a.ArchivePath != "" {
		b.WriteString("archive:\n")
		fmt.Fprintf(&b, "  path: %q\n\n", a.ArchivePath)
	}

	b.WriteString("logging:\n")
	fmt.Fprintf(&b, "  level: %q\n", a.LogLevel)
	fmt.Fprintf(&b, "  format: %q\n", a.LogFormat)

	_, err := io.WriteString(w, b.String())
	return err
}

func isYes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

// promptPositiveInt asks until the answer is a whole number of at least 1.
// EOF returns the default.
func promptPositiveInt(reader *bufio.Reader, question string, defaultVal int) int {
	def := strconv.Itoa(defaultVal)
	for {
		answer := prompt(reader, question, def)
		n, err := strconv.Atoi(answer)
		if err == nil && n >= 1 {
			return n
		}
		fmt.Printf("  %q is not a whole number of at least 1\n", answer)
		if _, err := reader.Peek(1); err != nil {
			return defaultVal
		}
	}
}
