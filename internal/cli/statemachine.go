package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shaiso/stepflow/internal/domain"
	"github.com/shaiso/stepflow/internal/engine"
)

// NewStateMachineCmd создаёт группу команд для управления state machines.
func NewStateMachineCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "state-machine",
		Aliases: []string{"sm"},
		Short:   "Manage state machines",
	}

	cmd.AddCommand(
		newStateMachineListCmd(clientFn, outputFn),
		newStateMachineCreateCmd(clientFn, outputFn),
		newStateMachineShowCmd(clientFn, outputFn),
		newStateMachineDeleteCmd(clientFn, outputFn),
		newStateMachineValidateCmd(outputFn),
	)

	return cmd
}

func newStateMachineListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered state machines",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			machines, err := client.ListStateMachines()
			if err != nil {
				return err
			}

			headers := []string{"NAME", "START_AT", "STATES", "SUB_WORKFLOWS", "COMMENT"}
			rows := make([][]string, len(machines))
			for i, sm := range machines {
				rows[i] = []string{
					sm.Name, sm.StartAt, strconv.Itoa(sm.States),
					strings.Join(sm.SubWorkflows, ","), sm.Comment,
				}
			}

			out.Print(headers, rows, machines)
			return nil
		},
	}
}

func newStateMachineCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a state machine from a YAML or JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read definition: %w", err)
			}

			sm, err := client.CreateStateMachine(data)
			if err != nil {
				return err
			}

			var created struct {
				Name string `json:"name"`
			}
			_ = json.Unmarshal(sm, &created)

			out.Notef("State machine registered: %s", created.Name)
			if out.jsonMode {
				out.JSON(sm)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Definition file (required)")
	cmd.MarkFlagRequired("file")

	return cmd
}

func newStateMachineShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Show a state machine definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			sm, err := client.GetStateMachine(args[0])
			if err != nil {
				return err
			}

			// Определение всегда выводится как JSON
			out.JSON(sm)
			return nil
		},
	}
}

func newStateMachineDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a state machine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.DeleteStateMachine(args[0]); err != nil {
				return err
			}

			out.Notef("State machine deleted: %s", args[0])
			return nil
		},
	}
}

// newStateMachineValidateCmd проверяет определения локально, без сервера.
// Файлы регистрируются вместе, поэтому sub-workflows можно передать рядом.
func newStateMachineValidateCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Validate definition files locally",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			defs, err := parseDefinitionFiles(args)
			if err != nil {
				return err
			}

			catalog := engine.NewCatalog(slog.New(slog.NewTextHandler(io.Discard, nil)))
			if err := engine.RegisterAll(catalog, defs); err != nil {
				return err
			}

			for _, name := range catalog.Names() {
				sm, err := catalog.Get(name)
				if err != nil {
					return err
				}
				g, err := engine.BuildGraph(sm)
				if err != nil {
					return err
				}
				terminals := make([]string, 0, 1)
				for _, node := range g.TerminalNodes() {
					terminals = append(terminals, node.Name)
				}
				out.Notef("%s: ok, %d states, ends at %s", name, g.Size(), strings.Join(terminals, ", "))
			}
			return nil
		},
	}
}

func parseDefinitionFiles(files []string) ([]*domain.StateMachine, error) {
	defs := make([]*domain.StateMachine, 0, len(files))
	for _, f := range files {
		sm, err := engine.ParseDefinitionFile(f)
		if err != nil {
			return nil, err
		}
		defs = append(defs, sm)
	}
	return defs, nil
}
