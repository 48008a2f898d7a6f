package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"quiz-progress/internal/app"
	"quiz-progress/internal/config"
	"quiz-progress/internal/logger"
)

// NewProgressCmd prints the unlock chain of a course for one learner.
func NewProgressCmd(configPath *string) *cobra.Command {
	var courseID, userID int64
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Show which quizzes of a course are completed, available or locked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log := logger.New(cfg)
			defer log.Sync()

			progress := app.NewCourseProgress(newBackendClient(cfg, log), log)
			states, err := progress.Load(cmd.Context(), courseID, userID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(states) == 0 {
				fmt.Fprintf(out, "course %d has no quizzes\n", courseID)
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "QUIZ\tTITLE\tSTATUS")
			for _, st := range states {
				fmt.Fprintf(tw, "%d\t%s\t%s\n", st.QuizID, st.Title, st.Status)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Int64Var(&courseID, "course", 0, "course id")
	cmd.Flags().Int64Var(&userID, "user", 0, "learner id")
	_ = cmd.MarkFlagRequired("course")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
