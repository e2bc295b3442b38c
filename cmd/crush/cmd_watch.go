package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"contentcrush/cmd/internal/realtime"
	v1 "contentcrush/contracts/realtime/v1"

	"github.com/spf13/cobra"
)

var (
	flagWatchTasks    []string
	flagWatchProjects []string

	flagCommentTask    string
	flagCommentProject string

	flagNotifyUser    string
	flagNotifyTitle   string
	flagNotifyMessage string
)

var watchCmd = &cobra.Command{
	Use:   "watch [kind...]",
	Short: "Stream realtime events to stdout",
	Long: `Connects both realtime transports and prints every matching event as a
JSON line until interrupted. Without kind arguments all events match.

Examples:
  crush watch
  crush watch task_updated notification
  crush watch --task 42 --project 7 new-comment`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		rt := runtime.Realtime()

		kinds := args
		if len(kinds) == 0 {
			kinds = []string{v1.KindWildcard}
		}

		out := json.NewEncoder(os.Stdout)
		print := func(ev v1.Event) {
			_ = out.Encode(map[string]any{
				"ts":    time.Now().UTC().Format(time.RFC3339Nano),
				"kind":  v1.Normalize(ev.Kind()),
				"event": ev,
			})
		}
		for _, k := range kinds {
			defer rt.Subscribe(k, print)()
		}

		if err := rt.Connect(ctx); err != nil {
			return err
		}
		for _, id := range flagWatchTasks {
			rt.JoinTask(id)
		}
		for _, id := range flagWatchProjects {
			rt.JoinProject(id)
		}

		runtime.Log().Info("watch.started", "kinds", fmt.Sprint(kinds))
		<-ctx.Done()
		return nil
	},
}

var commentCmd = &cobra.Command{
	Use:   "comment <text>",
	Short: "Send a comment to a task or project room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if (flagCommentTask == "") == (flagCommentProject == "") {
			return fmt.Errorf("exactly one of --task or --project is required")
		}

		ctx, cancel := signalContext()
		defer cancel()

		u := runtime.Auth().CurrentUser()
		if u == nil {
			// Fetch the profile so the comment carries an author.
			me, err := runtime.Auth().Me(ctx)
			if err != nil {
				return err
			}
			if me == nil {
				return fmt.Errorf("not signed in")
			}
			u = me
		}
		author := u.ID

		rt := runtime.Realtime()
		if err := rt.Connect(ctx); err != nil {
			return err
		}
		if err := waitOpen(ctx, rt); err != nil {
			return err
		}

		if flagCommentTask != "" {
			rt.JoinTask(flagCommentTask)
			rt.SendTaskComment(flagCommentTask, author, args[0])
		} else {
			rt.JoinProject(flagCommentProject)
			rt.SendProjectComment(flagCommentProject, author, args[0])
		}

		// Give the frame time to flush before the process exits.
		time.Sleep(200 * time.Millisecond)
		fmt.Println("sent")
		return nil
	},
}

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Send a direct notification to a user",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		rt := runtime.Realtime()
		if err := rt.Connect(ctx); err != nil {
			return err
		}
		if err := waitOpen(ctx, rt); err != nil {
			return err
		}

		rt.NotifyUser(v1.NotifyUserPayload{
			UserID:  flagNotifyUser,
			Title:   flagNotifyTitle,
			Message: flagNotifyMessage,
		})
		time.Sleep(200 * time.Millisecond)
		fmt.Println("sent")
		return nil
	},
}

// waitOpen blocks until the event bus is usable or the deadline passes.
func waitOpen(ctx context.Context, rt *realtime.Manager) error {
	deadline := time.After(10 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		if _, bus := rt.States(); bus == realtime.StateOpen {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("interrupted before the bus connected")
		case <-deadline:
			return fmt.Errorf("event bus did not connect")
		case <-tick.C:
		}
	}
}

func init() {
	watchCmd.Flags().StringSliceVar(&flagWatchTasks, "task", nil, "task room(s) to join while watching")
	watchCmd.Flags().StringSliceVar(&flagWatchProjects, "project", nil, "project room(s) to join while watching")

	commentCmd.Flags().StringVar(&flagCommentTask, "task", "", "task room to comment in")
	commentCmd.Flags().StringVar(&flagCommentProject, "project", "", "project room to comment in")

	notifyCmd.Flags().StringVar(&flagNotifyUser, "user", "", "recipient user id")
	notifyCmd.Flags().StringVar(&flagNotifyTitle, "title", "", "notification title")
	notifyCmd.Flags().StringVar(&flagNotifyMessage, "message", "", "notification message")
	_ = notifyCmd.MarkFlagRequired("user")
	_ = notifyCmd.MarkFlagRequired("title")
	_ = notifyCmd.MarkFlagRequired("message")
}
