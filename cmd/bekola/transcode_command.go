package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nexston/bekola-backend/internal/app"
	"github.com/nexston/bekola-backend/internal/platform/dbctx"
)

func newTranscodeCommand(ctx *commandContext) *cobra.Command {
	var enqueue bool
	cmd := &cobra.Command{
		Use:   "transcode <video-id>",
		Short: "Convert an uploaded video to HLS in this process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			videoID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid video id %q: %w", args[0], err)
			}
			return ctx.withApp(cmd.Context(), func(runCtx context.Context, a *app.App) error {
				out := cmd.OutOrStdout()
				if enqueue {
					job, created, err := a.Services.Transcode.EnqueueTranscode(dbctx.Context{Ctx: runCtx}, videoID, nil)
					if err != nil {
						return err
					}
					if !created {
						fmt.Fprintf(out, "Transcode already pending for video %s\n", videoID)
						return nil
					}
					fmt.Fprintf(out, "Enqueued job %s\n", job.ID)
					return nil
				}
				if err := a.Services.Transcode.RunTranscode(runCtx, videoID); err != nil {
					return err
				}
				st, err := a.Services.Transcode.Status(dbctx.Context{Ctx: runCtx}, nil, videoID)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Video %s is %s", videoID, st.Stage)
				if st.PlaybackURL != nil {
					fmt.Fprintf(out, " at %s", *st.PlaybackURL)
				}
				fmt.Fprintln(out)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "Hand the video to the job queue instead of running inline")
	return cmd
}
