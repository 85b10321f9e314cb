package commands

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cdrtools/cdrbatch/app"
	"github.com/cdrtools/cdrbatch/custom_errors"
	"github.com/cdrtools/cdrbatch/internal/state"
	"github.com/cdrtools/cdrbatch/types"
	"github.com/spf13/cobra"
)

var (
	submitName      string
	submitCommand   string
	submitArgs      []string
	submitEmails    []string
	submitSubmitter string

	searchID     int64
	searchName   string
	searchAge    int
	searchStatus string
	searchJSON   bool

	stalledAbort []int64
	operatorName string

	purgeDays int
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Queue a batch job",
	RunE:  runSubmit,
}

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search jobs, most recently changed first",
	RunE:  runSearch,
}

var transitionCmd = &cobra.Command{
	Use:   "transition <job-id> <status>",
	Short: "Move a job to a new status",
	Args:  cobra.ExactArgs(2),
	RunE:  runTransition,
}

var progressCmd = &cobra.Command{
	Use:   "progress <job-id> <message>",
	Short: "Replace a job's progress message",
	Args:  cobra.ExactArgs(2),
	RunE:  runProgress,
}

var stalledCmd = &cobra.Command{
	Use:   "stalled",
	Short: "List jobs not in a terminal status, optionally aborting some",
	RunE:  runStalled,
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete finished jobs older than --days",
	RunE:  runPurge,
}

func init() {
	submitCmd.Flags().StringVar(&submitName, "name", "", "job name (required)")
	submitCmd.Flags().StringVar(&submitCommand, "command", "", "command the worker runs (required)")
	submitCmd.Flags().StringArrayVar(&submitArgs, "arg", nil, "argument as key=value, repeatable")
	submitCmd.Flags().StringArrayVar(&submitEmails, "email", nil, "subscriber address(es), repeatable")
	submitCmd.Flags().StringVar(&submitSubmitter, "submitter", "", "submitting user id")

	searchCmd.Flags().Int64Var(&searchID, "id", 0, "job id")
	searchCmd.Flags().StringVar(&searchName, "name", "", "substring of the job name")
	searchCmd.Flags().IntVar(&searchAge, "age", 0, "only jobs changed within this many days")
	searchCmd.Flags().StringVar(&searchStatus, "status", "", "job status")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "print JSON")

	stalledCmd.Flags().Int64SliceVar(&stalledAbort, "abort", nil, "job ids to mark as aborted")
	stalledCmd.Flags().StringVar(&operatorName, "as", currentOSUser(), "operator name recorded in the log")

	purgeCmd.Flags().IntVar(&purgeDays, "days", 0, "minimum age in days of the jobs to delete (required)")
	purgeCmd.Flags().StringVar(&operatorName, "as", currentOSUser(), "operator name recorded in the log")
}

func currentOSUser() string {
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "operator"
}

func parseArgs(raw []string) ([]types.Arg, error) {
	args := make([]types.Arg, 0, len(raw))
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, custom_errors.InvalidArgument("argument %q is not key=value", kv)
		}
		args = append(args, types.Arg{Key: key, Value: value})
	}
	return args, nil
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, custom_errors.InvalidArgument("invalid job id %q", raw)
	}
	return id, nil
}

func runSubmit(cmd *cobra.Command, _ []string) error {
	args, err := parseArgs(submitArgs)
	if err != nil {
		return err
	}
	sub := types.Submission{Name: submitName, Command: submitCommand, Args: args, EmailList: submitEmails}
	if submitSubmitter != "" {
		sub.Submitter = &submitSubmitter
	}

	c, err := openContainer(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Close()

	res, err := c.BatchJobs.Submit(cmd.Context(), sub)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if res.AlreadyRunning {
		fmt.Fprintf(out, "A job named %q is already running as job %d\n", sub.Name, res.JobID)
		return nil
	}
	fmt.Fprintf(out, "Queued job %d\n", res.JobID)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	c, err := openContainer(cmd.Context(), app.WithoutMigrations())
	if err != nil {
		return err
	}
	defer c.Close()

	job, err := c.BatchJobs.Status(cmd.Context(), id)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), job)
}

func runSearch(cmd *cobra.Command, _ []string) error {
	filter := types.SearchFilter{JobID: searchID, Name: searchName, AgeDays: searchAge}
	if searchStatus != "" {
		st, err := state.Parse(searchStatus)
		if err != nil {
			return err
		}
		filter.Status = st
	}

	c, err := openContainer(cmd.Context(), app.WithoutMigrations())
	if err != nil {
		return err
	}
	defer c.Close()

	result, err := c.BatchJobs.Search(cmd.Context(), filter)
	if err != nil {
		return err
	}
	if searchJSON {
		return printJSON(cmd.OutOrStdout(), result)
	}
	printJobs(cmd.OutOrStdout(), result.Items)
	if result.Truncated {
		fmt.Fprintf(cmd.OutOrStdout(), "(showing the first %d matches)\n", result.Limit)
	}
	return nil
}

func runTransition(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	to, err := state.Parse(args[1])
	if err != nil {
		return err
	}

	c, err := openContainer(cmd.Context(), app.WithoutMigrations())
	if err != nil {
		return err
	}
	defer c.Close()

	job, err := c.BatchJobs.Transition(cmd.Context(), id, to)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Job %d is now %s\n", job.ID, job.Status.Label())
	return nil
}

func runProgress(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	c, err := openContainer(cmd.Context(), app.WithoutMigrations())
	if err != nil {
		return err
	}
	defer c.Close()

	return c.BatchJobs.SetProgress(cmd.Context(), id, args[1])
}

func runStalled(cmd *cobra.Command, _ []string) error {
	c, err := openContainer(cmd.Context(), app.WithoutMigrations())
	if err != nil {
		return err
	}
	defer c.Close()

	out := cmd.OutOrStdout()
	if len(stalledAbort) > 0 {
		aborted, err := c.BatchJobs.AbortStalled(cmd.Context(), operator(operatorName), stalledAbort)
		for _, id := range aborted {
			fmt.Fprintf(out, "Job %d marked as aborted\n", id)
		}
		if err != nil {
			return err
		}
	}

	jobs, err := c.BatchJobs.Stalled(cmd.Context())
	if err != nil {
		return err
	}
	printJobs(out, jobs)
	return nil
}

func runPurge(cmd *cobra.Command, _ []string) error {
	c, err := openContainer(cmd.Context(), app.WithoutMigrations())
	if err != nil {
		return err
	}
	defer c.Close()

	n, err := c.BatchJobs.Purge(cmd.Context(), operator(operatorName), purgeDays)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d jobs\n", n)
	return nil
}

func printJobs(w io.Writer, jobs []types.BatchJob) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tCHANGED\tPROGRESS")
	for _, j := range jobs {
		progress := j.Progress
		if i := strings.IndexByte(progress, '\n'); i >= 0 {
			progress = progress[:i]
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", j.ID, j.Name, j.Status.Label(), j.StatusChangedAt.Format("2006-01-02 15:04"), progress)
	}
	tw.Flush()
}
