package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/quillworks/automation"
	"github.com/quillworks/automation/actions"
)

// CLI configuration
type Config struct {
	WorkflowFile string
	Inputs       map[string]any
	Timeout      time.Duration
	Verbose      bool
	JSON         bool
	ShowSteps    bool
	ShowOutputs  bool
}

func main() {
	config := parseFlags()

	if config.WorkflowFile == "" {
		color.Red("Error: workflow file is required")
		flag.Usage()
		os.Exit(1)
	}
	if _, err := os.Stat(config.WorkflowFile); os.IsNotExist(err) {
		color.Red("Error: workflow file '%s' not found", config.WorkflowFile)
		os.Exit(1)
	}

	logger := setupLogger(config.Verbose)

	color.Blue("Loading workflow from: %s", config.WorkflowFile)
	wf, err := automation.LoadFile(config.WorkflowFile)
	if err != nil {
		log.Fatalf("Failed to load workflow: %v", err)
	}

	color.Cyan("Workflow: %s", wf.Name())
	if wf.Description() != "" {
		color.White("Description: %s", wf.Description())
	}
	if config.ShowSteps {
		showWorkflowSteps(wf)
		return
	}

	registry, err := actions.Registry()
	if err != nil {
		log.Fatalf("Failed to create action registry: %v", err)
	}

	store := automation.NewMemoryStore()
	store.PutWorkflow(wf)

	engine, err := automation.NewEngine(automation.EngineOptions{
		Store:   store,
		Actions: registry,
		Logger:  logger,
	})
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}
	defer engine.Close()

	ctx := context.Background()
	if config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
		color.Yellow("Timeout: %v", config.Timeout)
	}

	startTime := time.Now()
	executionID, err := engine.Execute(ctx, wf.ID(), automation.ExecuteOptions{
		Input: config.Inputs,
	})
	if err != nil {
		log.Fatalf("Failed to start execution: %v", err)
	}
	color.Green("Started execution (ID: %s)...\n", executionID)

	if err := engine.Wait(ctx, executionID); err != nil {
		log.Fatalf("Failed to wait for execution: %v", err)
	}
	duration := time.Since(startTime)

	execution, err := store.GetExecution(ctx, executionID)
	if err != nil {
		log.Fatalf("Failed to load execution: %v", err)
	}
	showExecutionResults(execution, duration, config)
}

func parseFlags() *Config {
	config := &Config{
		Inputs: make(map[string]any),
	}

	flag.StringVar(&config.WorkflowFile, "file", "", "Path to the YAML workflow definition file (required)")
	flag.StringVar(&config.WorkflowFile, "f", "", "Path to the YAML workflow definition file (shorthand)")

	var inputFlags stringSlice
	flag.Var(&inputFlags, "input", "Input parameter in format key=value (can be used multiple times)")
	flag.Var(&inputFlags, "i", "Input parameter in format key=value (shorthand, can be used multiple times)")

	flag.DurationVar(&config.Timeout, "timeout", 0, "Execution timeout (e.g., 30s, 5m, 1h)")
	flag.DurationVar(&config.Timeout, "t", 0, "Execution timeout (shorthand)")

	flag.BoolVar(&config.Verbose, "verbose", false, "Enable verbose logging")
	flag.BoolVar(&config.Verbose, "v", false, "Enable verbose logging (shorthand)")

	flag.BoolVar(&config.JSON, "json", false, "Output results in JSON format")
	flag.BoolVar(&config.ShowSteps, "show-steps", false, "Show workflow steps and exit")
	flag.BoolVar(&config.ShowOutputs, "show-outputs", true, "Show execution outputs (default: true)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Automation CLI - Execute YAML-defined workflows

Usage: %s [options] -file <workflow.yaml>

Examples:
  # Execute a simple workflow
  %s -file example.yaml

  # Execute with inputs
  %s -file workflow.yaml -input name=John -input count=5

  # Execute with a timeout
  %s -file workflow.yaml -timeout 30s

Options:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
		flag.PrintDefaults()

		fmt.Fprintf(os.Stderr, `
Supported Step Types:
  %s

Input Format:
  Use -input key=value for each input parameter.
  Values are parsed as JSON if possible, otherwise as strings.

`, strings.Join(stepTypeNames(), ", "))
	}

	flag.Parse()

	for _, input := range inputFlags {
		parts := strings.SplitN(input, "=", 2)
		if len(parts) != 2 {
			fmt.Fprintf(os.Stderr, "Error: invalid input format '%s'. Use key=value\n", input)
			os.Exit(1)
		}

		key, value := parts[0], parts[1]

		// Try to parse as JSON, fallback to string
		var parsedValue any
		if err := json.Unmarshal([]byte(value), &parsedValue); err != nil {
			parsedValue = value
		}
		config.Inputs[key] = parsedValue
	}

	return config
}

// Custom flag type for handling multiple input values
type stringSlice []string

func (s *stringSlice) String() string {
	return strings.Join(*s, ", ")
}

func (s *stringSlice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func setupLogger(verbose bool) *slog.Logger {
	level := slog.LevelError
	if verbose {
		level = slog.LevelInfo
	}
	return automation.NewLogger(level)
}

func stepTypeNames() []string {
	types := automation.StepTypes()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return names
}

func showWorkflowSteps(wf *automation.Workflow) {
	color.Blue("Workflow steps:")
	for _, step := range wf.Steps() {
		deps := ""
		if len(step.DependsOn) > 0 {
			deps = fmt.Sprintf(" (depends on: %s)", strings.Join(step.DependsOn, ", "))
		}
		fmt.Printf("  %d. %s [%s]%s\n", step.Order, step.ID, step.Type, deps)
	}
}

func showExecutionResults(execution *automation.WorkflowExecution, duration time.Duration, config *Config) {
	color.White("Execution completed in %v", duration)
	color.White("Status: %s", execution.Status)
	color.White("Steps: %d/%d", execution.StepsCompleted, execution.StepsTotal)

	if execution.Status == automation.ExecutionStatusCompleted {
		color.Green("Execution successful!")
	} else {
		color.Red("Error: %s", execution.ErrorMessage)
	}

	if config.ShowOutputs && len(execution.OutputData) > 0 {
		fmt.Printf("\n")
		color.Magenta("Outputs:")
		if config.JSON {
			outputBytes, err := json.MarshalIndent(execution.OutputData, "", "  ")
			if err != nil {
				fmt.Printf("Error formatting outputs: %v\n", err)
			} else {
				fmt.Println(string(outputBytes))
			}
		} else {
			for key, value := range execution.OutputData {
				if valueBytes, err := json.Marshal(value); err == nil {
					fmt.Printf("  %s: %s\n", key, string(valueBytes))
				} else {
					fmt.Printf("  %s: %v\n", key, value)
				}
			}
		}
	}

	if execution.Status != automation.ExecutionStatusCompleted {
		os.Exit(1)
	}
}
