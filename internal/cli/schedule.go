package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

// NewScheduleCmd создаёт группу команд для просмотра schedules.
// Расписания задаются в конфигурации сервера.
func NewScheduleCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Inspect schedules",
	}

	cmd.AddCommand(newScheduleListCmd(clientFn, outputFn))

	return cmd
}

func newScheduleListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			schedules, err := client.ListSchedules()
			if err != nil {
				return err
			}

			headers := []string{"NAME", "STATE_MACHINE", "CRON", "INTERVAL", "TIMEZONE", "ENABLED", "NEXT_DUE", "LAST_EXECUTION"}
			rows := make([][]string, len(schedules))
			for i, s := range schedules {
				rows[i] = []string{
					s.Name, s.StateMachine, s.CronExpr, formatInterval(s.IntervalSec), s.Timezone,
					strconv.FormatBool(s.Enabled), s.NextDueAt, s.LastExecutionID,
				}
			}

			out.Print(headers, rows, schedules)
			return nil
		},
	}
}

func formatInterval(sec int) string {
	if sec <= 0 {
		return ""
	}
	return strconv.Itoa(sec) + "s"
}
