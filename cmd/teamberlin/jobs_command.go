package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/albert775f/myteamberlin/internal/domain/media"
	"github.com/albert775f/myteamberlin/internal/infrastructure/sqlite"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect merge jobs",
	}
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var user string
	var statuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List merge jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := make(map[media.JobStatus]bool, len(statuses))
			for _, raw := range statuses {
				status := media.JobStatus(raw)
				if !status.Valid() {
					return fmt.Errorf("unknown status %q", raw)
				}
				filter[status] = true
			}

			return ctx.withStore(cmd.Context(), func(store *sqlite.Store) error {
				jobs, err := store.ListJobs(cmd.Context(), user)
				if err != nil {
					return err
				}
				rows := buildJobRows(jobs, filter)
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No merge jobs")
					return nil
				}
				headers := []string{"ID", "Creator", "Status", "Progress", "Inputs", "Created", "Error"}
				aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(headers, rows, aligns))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "Only show jobs created by this user")
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable)")
	return cmd
}

func buildJobRows(jobs []media.MergeJob, filter map[media.JobStatus]bool) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		if len(filter) > 0 && !filter[job.Status] {
			continue
		}
		rows = append(rows, []string{
			shortID(job.ID),
			job.CreatorID,
			string(job.Status),
			strconv.Itoa(job.Progress) + "%",
			strconv.Itoa(len(job.InputAssetIDs)),
			humanize.Time(job.CreatedAt),
			truncate(job.Error, 48),
		})
	}
	return rows
}
