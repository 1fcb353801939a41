package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/schoolhub/schoolhub/internal/effects"
	"github.com/schoolhub/schoolhub/internal/logging"
	"github.com/schoolhub/schoolhub/internal/notifications"
	"github.com/schoolhub/schoolhub/internal/session"
	"github.com/schoolhub/schoolhub/internal/store"
	"github.com/schoolhub/schoolhub/internal/ui"
)

// bellGap coalesces bursts of notifications into one bell.
const bellGap = 750 * time.Millisecond

// startSession builds, initializes and logs in a session. The returned
// function disposes it.
func startSession(toaster effects.Toaster) (*session.Session, func(), error) {
	token, err := resolveToken()
	if err != nil {
		return nil, nil, err
	}
	prefs, closeDB, err := openPreferences()
	if err != nil {
		return nil, nil, err
	}

	deviceID, err := prefs.DeviceID(context.Background())
	if err != nil {
		closeDB()
		return nil, nil, err
	}

	s, err := session.New(cfg, session.Deps{
		DeviceID:    deviceID,
		Toaster:     toaster,
		Sound:       effects.NewBellSound(os.Stderr, bellGap),
		Opener:      browserOpener{},
		Preferences: prefs,
		Logger:      logging.Default(),
	})
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	stop := func() {
		s.Dispose()
		closeDB()
	}

	if err := s.Init(context.Background()); err != nil {
		stop()
		return nil, nil, err
	}
	if err := s.Login(token); err != nil {
		stop()
		return nil, nil, err
	}
	return s, stop, nil
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream notifications as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			printer := ui.NewPrinter(cmd.OutOrStdout())
			s, stop, err := startSession(printer)
			if err != nil {
				return err
			}
			defer stop()

			var (
				mu   sync.Mutex
				last notifications.ConnectionState
			)
			cancel := s.Store().Subscribe(func(st store.State) {
				mu.Lock()
				defer mu.Unlock()
				if st.Connection != last {
					last = st.Connection
					printer.PrintStatus(st.Connection)
				}
			})
			defer cancel()

			fmt.Fprintf(cmd.OutOrStdout(), "Watching notifications for %s. Press Ctrl+C to stop.\n", s.Claims().UserID)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			<-sigCh
			signal.Stop(sigCh)

			printer.PrintStats(s.Store().State().Stats)
			return nil
		},
	}
}

func tuiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the notification center",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Logs would tear the alternate screen.
			logging.SetOutput(io.Discard)

			toasts := &ui.Toasts{}
			s, stop, err := startSession(toasts)
			if err != nil {
				return err
			}
			defer stop()

			model := ui.NewModel(s, s.Store().State(), s.Effects().SoundEnabled())
			p := tea.NewProgram(model, tea.WithAltScreen())
			toasts.Attach(p)

			cancel := s.Store().Subscribe(func(st store.State) {
				p.Send(ui.StateMsg{State: st})
			})
			defer cancel()

			_, err = p.Run()
			return err
		},
	}
}
