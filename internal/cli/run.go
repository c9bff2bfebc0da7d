package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mindloop/mindloop/internal/gateway"
)

var (
	runInterval int
	runSession  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the autonomous loop daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		printHeader("🔄 mindloop Daemon")

		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		session := runSession
		if session == "" {
			session = rt.cfg.Engine.DefaultSession
		}
		interval := time.Duration(runInterval) * time.Minute
		if runInterval <= 0 {
			interval = rt.cfg.Engine.Interval()
		}

		go func() { _ = rt.bus.DispatchEvents(ctx) }()
		go func() { _ = rt.loop.Run(ctx) }()

		rt.engine.StartLoop(ctx, session, interval)
		defer rt.engine.StopAll()

		fmt.Printf("Session:  %s\n", session)
		fmt.Printf("Interval: %s\n", interval)

		if rt.cfg.Gateway.Enabled {
			gw := gateway.New(rt.engine, rt.store, rt.cfg.Gateway, rt.cfg.Engine.DefaultSession)
			fmt.Printf("Gateway:  http://%s:%d\n", rt.cfg.Gateway.Host, rt.cfg.Gateway.Port)
			return gw.Run(ctx)
		}

		<-ctx.Done()
		return nil
	},
}

func init() {
	runCmd.Flags().IntVar(&runInterval, "interval", 0, "cycle interval in minutes (0 = config value)")
	runCmd.Flags().StringVar(&runSession, "session", "", "session id (default from config)")
}
