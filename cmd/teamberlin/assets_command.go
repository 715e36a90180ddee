package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/albert775f/myteamberlin/internal/domain/media"
	"github.com/albert775f/myteamberlin/internal/infrastructure/sqlite"
)

func newAssetsCommand(ctx *commandContext) *cobra.Command {
	assetsCmd := &cobra.Command{
		Use:   "assets",
		Short: "Inspect stored audio assets",
	}
	assetsCmd.AddCommand(newAssetsListCommand(ctx))
	return assetsCmd
}

func newAssetsListCommand(ctx *commandContext) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List assets, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.Context(), func(store *sqlite.Store) error {
				assets, err := store.ListAssets(cmd.Context(), user)
				if err != nil {
					return err
				}
				if len(assets) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No assets")
					return nil
				}
				headers := []string{"ID", "Kind", "Name", "Size", "Duration", "Codec", "Uploader", "Uploaded"}
				aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft, alignLeft}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(headers, buildAssetRows(assets), aligns))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "Only show assets uploaded by this user")
	return cmd
}

func buildAssetRows(assets []media.Asset) [][]string {
	rows := make([][]string, 0, len(assets))
	for _, asset := range assets {
		rows = append(rows, []string{
			shortID(asset.ID),
			string(asset.Kind),
			truncate(asset.OriginalName, 40),
			humanize.IBytes(uint64(asset.Size)),
			formatDuration(asset.Metadata.DurationSeconds),
			asset.Metadata.Codec,
			asset.UploaderID,
			humanize.Time(asset.UploadedAt),
		})
	}
	return rows
}

func formatDuration(seconds float64) string {
	if seconds <= 0 {
		return "-"
	}
	return time.Duration(seconds * float64(time.Second)).Round(time.Second).String()
}
