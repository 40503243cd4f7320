package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/shaiso/stepflow/internal/document"
)

// NewExecutionCmd создаёт группу команд для управления выполнениями.
func NewExecutionCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "execution",
		Aliases: []string{"exec"},
		Short:   "Manage executions",
	}

	cmd.AddCommand(
		newExecutionListCmd(clientFn, outputFn),
		newExecutionStartCmd(clientFn, outputFn),
		newExecutionShowCmd(clientFn, outputFn),
		newExecutionStopCmd(clientFn, outputFn),
	)

	return cmd
}

func newExecutionListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			executions, err := client.ListExecutions(strings.ToUpper(status))
			if err != nil {
				return err
			}

			headers := []string{"ID", "STATE_MACHINE", "STATUS", "STATE", "ERROR", "CREATED_AT"}
			rows := make([][]string, len(executions))
			for i, e := range executions {
				rows[i] = []string{e.ID, e.StateMachine, e.Status, e.CurrentState, e.Error, e.CreatedAt}
			}

			out.Print(headers, rows, executions)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (RUNNING, SUCCEEDED, FAILED, CANCELLED)")

	return cmd
}

func newExecutionStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var (
		inputJSON string
		inputFile string
		sets      []string
		defFile   string
		wait      bool
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "start [NAME]",
		Short: "Start an execution of a registered state machine or a definition file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if (len(args) == 1) == (defFile != "") {
				return fmt.Errorf("specify either NAME or --definition")
			}

			input, err := buildInput(inputJSON, inputFile, sets)
			if err != nil {
				return err
			}

			var res *StartExecutionResponse
			if defFile != "" {
				def, err := readDefinitionJSON(defFile)
				if err != nil {
					return err
				}
				res, err = client.StartInlineExecution(def, input)
				if err != nil {
					return err
				}
			} else {
				res, err = client.StartExecution(args[0], input)
				if err != nil {
					return err
				}
			}

			out.Notef("Execution started: %s", res.ID)

			if !wait {
				out.Print(
					[]string{"ID", "STATE_MACHINE"},
					[][]string{{res.ID, res.StateMachine}},
					res,
				)
				return nil
			}

			exec, err := client.WaitExecution(res.ID, 500*time.Millisecond, timeout)
			if err != nil {
				return err
			}
			printExecution(out, exec, false)
			if exec.Status != "SUCCEEDED" {
				return fmt.Errorf("execution %s finished with status %s", exec.ID, exec.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&inputJSON, "input", "", "Input document as JSON")
	cmd.Flags().StringVar(&inputFile, "input-file", "", "Read input document from a JSON file")
	cmd.Flags().StringSliceVar(&sets, "set", nil, "Input field as KEY=VALUE (repeatable)")
	cmd.Flags().StringVarP(&defFile, "definition", "d", "", "Run a definition file without registering it")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the execution to finish")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Maximum time to wait with --wait")

	return cmd
}

func newExecutionShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var events bool

	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show execution status and output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			exec, err := client.GetExecution(args[0])
			if err != nil {
				return err
			}

			printExecution(out, exec, events)
			return nil
		},
	}

	cmd.Flags().BoolVar(&events, "events", false, "Show the execution trace")

	return cmd
}

func newExecutionStopCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "stop ID",
		Short: "Stop a running execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			exec, err := client.StopExecution(args[0])
			if err != nil {
				return err
			}

			out.Notef("Execution stopping: %s (status: %s)", exec.ID, exec.Status)
			return nil
		},
	}
}

// printExecution выводит выполнение: таблицу статуса, затем выход или ошибку.
func printExecution(out *Output, exec *Execution, events bool) {
	if out.jsonMode {
		out.JSON(exec)
		return
	}

	errKind := ""
	if exec.Failure != nil {
		errKind = exec.Failure.Error
	}
	out.Fields([][2]string{
		{"ID", exec.ID},
		{"STATE_MACHINE", exec.StateMachine},
		{"STATUS", exec.Status},
		{"STATE", exec.CurrentState},
		{"ERROR", errKind},
		{"STARTED_AT", exec.StartedAt},
		{"FINISHED_AT", exec.FinishedAt},
	})

	switch {
	case exec.Failure != nil:
		out.Section("Failure", exec.Failure)
	case exec.Status == "SUCCEEDED":
		out.Section("Output", exec.Output)
	}

	if events && len(exec.Events) > 0 {
		fmt.Fprintln(out.w)
		rows := make([][]string, len(exec.Events))
		for i, ev := range exec.Events {
			rows[i] = []string{ev.Timestamp, ev.Branch, ev.State, ev.Type, ev.Error, ev.Next}
		}
		out.Table([]string{"TIMESTAMP", "BRANCH", "STATE", "EVENT", "ERROR", "NEXT"}, rows)
	}
}

// buildInput собирает входной документ из --input, --input-file и --set.
// Поля --set записываются поверх объекта; без флагов вход — пустой объект.
func buildInput(inputJSON, inputFile string, sets []string) (any, error) {
	if inputJSON != "" && inputFile != "" {
		return nil, fmt.Errorf("--input and --input-file are mutually exclusive")
	}

	raw := []byte(inputJSON)
	if inputFile != "" {
		data, err := os.ReadFile(inputFile)
		if err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
		raw = data
	}

	var input any = map[string]any{}
	if len(bytes.TrimSpace(raw)) > 0 {
		doc, err := document.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid input JSON: %w", err)
		}
		input = doc
	}

	if len(sets) == 0 {
		return input, nil
	}

	obj, ok := input.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("--set requires the input to be a JSON object")
	}
	for _, kv := range sets {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid input format %q, expected KEY=VALUE", kv)
		}
		obj[parts[0]] = parts[1]
	}
	return obj, nil
}

// readDefinitionJSON читает определение и приводит YAML к JSON для API.
func readDefinitionJSON(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return json.RawMessage(trimmed), nil
	}

	var def map[string]any
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("decode definition %s: %w", path, err)
	}
	encoded, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("encode definition %s: %w", path, err)
	}
	return encoded, nil
}
