// Command provisiond batch-provisions factory-fresh IP cameras: it runs
// a minimal DHCP server on the provisioning segment, discovers devices
// as they lease an address, and drives each through the
// account-creation, hardening, and static-addressing program in
// internal/orchestrator.
package main

import (
	"context"
	stdflag "flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"camprovision/internal/config"
	"camprovision/internal/dhcp4d"
	"camprovision/internal/hwaddr"
	"camprovision/internal/netiface"
	"camprovision/internal/orchestrator"
	"camprovision/internal/plan"
	"camprovision/internal/prober"
)

const pname = "provisiond"

var (
	levelFlag   = zap.LevelFlag("log-level", zapcore.InfoLevel, "Log level [debug,info,warn,error,panic,fatal]")
	logger      *zap.Logger
	slogger     *zap.SugaredLogger
	metricsAddr string

	// runExitCode carries the provisioning Summary's exit code out of the
	// run subcommand's RunE, since cobra itself only distinguishes
	// error/no-error rather than our three-valued success/partial/failure.
	runExitCode int
)

func zapSetup() {
	var err error
	zapConfig := zap.NewDevelopmentConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(*levelFlag)
	logger, err = zapConfig.Build()
	if err != nil {
		fmt.Printf("can't initialize logger: %v\n", err)
		os.Exit(1)
	}
	slogger = logger.Sugar()
}

func prometheusInit(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			slogger.Warnw("metrics server exited", "error", err)
		}
	}()
}

// dhcpFlags are the address-range and identity flags shared by the run
// and dhcp-only subcommands.
type dhcpFlags struct {
	serverAddr string
	poolStart  string
	poolEnd    string
	subnetMask string
	gateway    string
	leaseTime  time.Duration
	iface      string
}

func addDHCPFlags(cmd *cobra.Command, f *dhcpFlags) {
	cmd.Flags().StringVar(&f.serverAddr, "server-addr", "", "address the DHCP server answers from (required)")
	cmd.Flags().StringVar(&f.poolStart, "pool-start", "", "first address of the DHCP pool (required)")
	cmd.Flags().StringVar(&f.poolEnd, "pool-end", "", "last address of the DHCP pool (required)")
	cmd.Flags().StringVar(&f.subnetMask, "subnet-mask", "255.255.255.0", "subnet mask handed out by DHCP and assigned statically")
	cmd.Flags().StringVar(&f.gateway, "gateway", "", "default gateway handed out by DHCP and assigned statically")
	cmd.Flags().DurationVar(&f.leaseTime, "lease-time", 2*time.Hour, "DHCP lease duration")
	cmd.Flags().StringVar(&f.iface, "interface", "", "local interface to validate against the pool subnet before binding (optional)")
}

func buildDHCPServer(f dhcpFlags) (*dhcp4d.Server, error) {
	cfg := dhcp4d.Config{
		ServerAddr: net.ParseIP(f.serverAddr),
		PoolStart:  net.ParseIP(f.poolStart),
		PoolEnd:    net.ParseIP(f.poolEnd),
		SubnetMask: net.IPMask(net.ParseIP(f.subnetMask).To4()),
		LeaseTime:  f.leaseTime,
		Interface:  f.iface,
	}
	return dhcp4d.NewServer(cfg, slogger)
}

func newDHCPOnlyCmd() *cobra.Command {
	var f dhcpFlags
	cmd := &cobra.Command{
		Use:           "dhcp-only",
		Short:         "run the DHCP server without provisioning devices",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			server, err := buildDHCPServer(f)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go waitForSignal(cancel)
			slogger.Infow("dhcp server starting", "pool_start", f.poolStart, "pool_end", f.poolEnd)
			return server.Serve(ctx)
		},
	}
	addDHCPFlags(cmd, &f)
	return cmd
}

func newPlanValidateCmd() *cobra.Command {
	var planPath string
	cmd := &cobra.Command{
		Use:           "plan-validate",
		Short:         "load and validate an assignment plan CSV without provisioning anything",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(planPath)
			if err != nil {
				return err
			}
			defer f.Close()

			p, err := plan.Load(f, slogger)
			if err != nil {
				return err
			}
			if p.IsKeyed() {
				fmt.Println("plan: keyed by hardware address")
			} else {
				fmt.Printf("plan: positional, %d address(es)\n", p.Remaining())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&planPath, "plan", "", "path to the assignment plan CSV (required)")
	return cmd
}

func newInterfacesCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "interfaces",
		Short:         "list local interfaces that carry an IPv4 address",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ifaces, err := netiface.List()
			if err != nil {
				return err
			}
			for _, iface := range ifaces {
				hw := "-"
				if len(iface.HWAddr) > 0 {
					hw = iface.HWAddr.String()
				}
				fmt.Printf("%-12s %-15s %s\n", iface.Name, iface.IPv4, hw)
			}
			return nil
		},
	}
}

func newRunCmd() *cobra.Command {
	var f dhcpFlags
	var planPath string
	var adminUser string
	var rootPassword string
	var secondaryUser string
	var secondaryPassword string
	var onvifUser string
	var onvifPassword string
	var useTLS bool
	var reachableWait time.Duration
	var pollInterval time.Duration
	var reportPath string

	cmd := &cobra.Command{
		Use:           "run",
		Short:         "run the DHCP server and provision devices as they appear",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			planFile, err := os.Open(planPath)
			if err != nil {
				return err
			}
			defer planFile.Close()
			assignPlan, err := plan.Load(planFile, slogger)
			if err != nil {
				return fmt.Errorf("loading plan: %w", err)
			}

			server, err := buildDHCPServer(f)
			if err != nil {
				return err
			}

			creds := config.NewCredentials(adminUser, rootPassword, slogger)
			creds.SecondaryUser = secondaryUser
			creds.SecondaryPassword = secondaryPassword
			creds.OnvifUser = onvifUser
			creds.OnvifPassword = onvifPassword

			transport := config.TransportPlain
			if useTLS {
				transport = config.TransportTLS
			}

			opts := orchestrator.Options{
				Credentials:   creds,
				Network:       config.NetworkConfig{SubnetMask: f.subnetMask, Gateway: f.gateway, Transport: transport},
				Plan:          assignPlan,
				ReachableWait: reachableWait,
				PollInterval:  pollInterval,
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go waitForSignal(cancel)

			go func() {
				if err := server.Serve(ctx); err != nil {
					slogger.Errorw("dhcp server exited", "error", err)
				}
			}()

			records := watchLeases(ctx, server, 5*time.Second)
			summary := orchestrator.Run(ctx, records, opts, slogger)

			slogger.Infow("run complete", "succeeded", summary.SucceededCount(), "failed", summary.FailedCount())
			runExitCode = summary.ExitCode()

			if reportPath != "" {
				reportFile, err := os.Create(reportPath)
				if err != nil {
					return fmt.Errorf("creating report: %w", err)
				}
				defer reportFile.Close()
				if err := summary.WriteReport(reportFile); err != nil {
					return fmt.Errorf("writing report: %w", err)
				}
			}
			return nil
		},
	}

	addDHCPFlags(cmd, &f)
	cmd.Flags().StringVar(&planPath, "plan", "", "path to the assignment plan CSV (required)")
	cmd.Flags().StringVar(&adminUser, "admin-user", "root", "administrator username (always forced to root)")
	cmd.Flags().StringVar(&rootPassword, "root-password", "", "password to assign the device's root account (required)")
	cmd.Flags().StringVar(&secondaryUser, "secondary-user", "", "optional secondary admin username")
	cmd.Flags().StringVar(&secondaryPassword, "secondary-password", "", "optional secondary admin password")
	cmd.Flags().StringVar(&onvifUser, "onvif-user", "", "optional ONVIF username")
	cmd.Flags().StringVar(&onvifPassword, "onvif-password", "", "optional ONVIF password")
	cmd.Flags().BoolVar(&useTLS, "tls", false, "use HTTPS for the VAPIX surface instead of HTTP")
	cmd.Flags().DurationVar(&reachableWait, "reachable-timeout", 60*time.Second, "how long to wait for a device to become reachable after a config change")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 2*time.Second, "how often to poll a device while waiting for reachability")
	cmd.Flags().StringVar(&reportPath, "report", "", "path to write the per-device CSV report to (optional)")
	return cmd
}

// watchLeases polls the server's lease table on an interval and, for
// each newly-confirmed lease, runs the device prober against it before
// ever handing it to the orchestrator: a host that merely picked up a
// lease on the segment but doesn't answer as a target camera is logged
// and dropped here rather than entering the per-device report. Each surviving candidate is streamed exactly once
// onto the returned channel, so the orchestrator can start provisioning
// a device as soon as it's confirmed rather than waiting for the whole
// run to wind down. The channel is closed once ctx is done.
func watchLeases(ctx context.Context, server *dhcp4d.Server, identifyTimeout time.Duration) <-chan orchestrator.DeviceRecord {
	out := make(chan orchestrator.DeviceRecord)

	go func() {
		defer close(out)
		seen := make(map[hwaddr.HardwareAddress]bool)

		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for {
			for _, lease := range server.Leases() {
				hw := lease.HW
				if seen[hw] {
					continue
				}
				seen[hw] = true

				addr := lease.Addr.IP()
				identified, err := prober.Identify(ctx, addr, identifyTimeout)
				if err != nil {
					slogger.Debugw("identification probe error, treating as not a target", "hw", hw.String(), "addr", addr.String(), "error", err)
					continue
				}
				if !identified {
					slogger.Infow("leased host did not identify as a target camera, skipping", "hw", hw.String(), "addr", addr.String())
					continue
				}

				rec := orchestrator.DeviceRecord{
					HWAddr:       hw,
					LeasedAddr:   addr,
					DiscoveredAt: time.Now(),
				}
				select {
				case out <- rec:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return out
}

func waitForSignal(cancel context.CancelFunc) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	cancel()
}

func main() {
	rootCmd := &cobra.Command{
		Use: pname,
	}
	rootCmd.PersistentFlags().AddGoFlagSet(stdflag.CommandLine)
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", ":9107", "address to serve Prometheus metrics on")

	cobra.OnInitialize(func() {
		zapSetup()
		prometheusInit(metricsAddr)
	})

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newPlanValidateCmd())
	rootCmd.AddCommand(newDHCPOnlyCmd())
	rootCmd.AddCommand(newInterfacesCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("failed: %v\n", err)
		os.Exit(1)
	}
	os.Exit(runExitCode)
}
