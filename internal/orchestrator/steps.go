package orchestrator

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"camprovision/internal/config"
	"camprovision/internal/ipaddr"
	"camprovision/internal/plan"
	"camprovision/internal/prober"
	"camprovision/internal/vapix"
	"camprovision/internal/zaperr"
)

// Options configures one provisioning run, threaded down from the CLI
// layer rather than read from package state.
type Options struct {
	Credentials   config.Credentials
	Network       config.NetworkConfig
	Plan          *plan.AssignmentPlan
	ReachableWait time.Duration
	PollInterval  time.Duration

	// DevicePort overrides the transport's default VAPIX port when
	// nonzero. Real cameras answer on 80/443; the hermetic test harness
	// answers on its stub listener's port.
	DevicePort int
}

// runStep appends one step's outcome to steps and returns ok unchanged,
// so call sites can both record and branch on it in one line.
func runStep(steps *[]StepResult, name StepName, ok bool, msg string) bool {
	*steps = append(*steps, StepResult{Step: name, Success: ok, Message: msg})
	return ok
}

// provisionOne runs the full nine-step provisioning program against a single
// device record - already identified as a target camera by the discovery
// layer - and returns its Result. It never returns an error itself; every
// failure is captured as a Result with a failed_<stage> status, since the
// caller processes many devices and one bad camera must not stop the run.
//
// finalAddr/assignErr are the outcome of the planner's step-6 lookup,
// already resolved by the caller's single dispatch loop rather than by
// this (possibly concurrent) worker - see orchestrator.Run - so a
// Positional plan's discovery-order guarantee holds regardless of
// worker scheduling.
func provisionOne(ctx context.Context, rec DeviceRecord, finalAddr ipaddr.Address, assignErr error, opts Options, log *zap.SugaredLogger) Result {
	started := time.Now()
	var steps []StepResult
	log = log.With("hw", rec.HWAddr.String(), "leased_addr", rec.LeasedAddr.String())

	client := vapix.New(rec.LeasedAddr, opts.Credentials, opts.Network.Transport, log)
	client.Port = opts.DevicePort

	// A device dispatched just as the run is being torn down never starts
	// its program; mid-program cancellation surfaces through each call's
	// context instead.
	if err := ctx.Err(); err != nil {
		return failStep(rec, steps, started, StepInitialAdmin, err.Error(), log)
	}

	// Step 1: create-initial-admin. Required; failure aborts this device.
	if ok, msg := client.CreateInitialAdmin(ctx); !ok {
		return failStep(rec, steps, started, StepInitialAdmin, msg, log)
	} else {
		runStep(&steps, StepInitialAdmin, true, msg)
	}

	// Step 2: create-secondary-admin. Only if configured; non-fatal.
	if opts.Credentials.HasSecondary() {
		ok, msg := client.CreateSecondaryAdmin(ctx)
		runStep(&steps, StepSecondaryAdmin, ok, msg)
		if !ok {
			log.Warnw("secondary admin account not created", "error", msg)
		}
	}

	// Step 3: create-onvif-user. Only if configured; non-fatal.
	if opts.Credentials.HasOnvif() {
		ok, msg := client.CreateOnvifUser(ctx)
		if !ok {
			ok, msg = client.CreateOnvifUserViaSOAP(ctx)
		}
		runStep(&steps, StepOnvifUser, ok, msg)
		if !ok {
			log.Warnw("onvif user not created", "error", msg)
		}
	}

	// Step 4: set-wdr-off. Non-fatal.
	if ok, msg := client.SetWDROff(ctx); !ok {
		runStep(&steps, StepDisableWDR, false, msg)
		log.Warnw("could not disable WDR", "error", msg)
	} else {
		runStep(&steps, StepDisableWDR, true, msg)
	}

	// Step 5: set-replay-protection-off. Non-fatal.
	if ok, msg := client.SetReplayProtectionOff(ctx); !ok {
		runStep(&steps, StepDisableReplay, false, msg)
		log.Warnw("could not disable replay protection", "error", msg)
	} else {
		runStep(&steps, StepDisableReplay, true, msg)
	}

	// Step 6: resolve the final address via the assignment planner.
	// Resolution failure aborts this device with the no-address stage.
	if assignErr != nil {
		return failStep(rec, steps, started, StepNoAddress, assignErr.Error(), log)
	}
	runStep(&steps, StepNoAddress, true, finalAddr.String())

	// Step 7: set-static-address. Failure aborts with the
	// ip-configuration stage.
	if ok, msg := client.SetStaticAddress(ctx, finalAddr.String(), opts.Network.SubnetMask, opts.Network.Gateway); !ok {
		return failStep(rec, steps, started, StepStaticAddress, msg, log)
	} else {
		runStep(&steps, StepStaticAddress, true, msg)
	}

	// Step 8: reachability-wait on the new address. The device is
	// changing its own IP out from under this connection, so the wait
	// targets finalAddr, not the temporary leased one, bounded by
	// ReachableWait.
	verifyClient := vapix.New(finalAddr.IP(), opts.Credentials, opts.Network.Transport, log)
	verifyClient.Port = opts.DevicePort
	probePort := opts.DevicePort
	if probePort == 0 {
		probePort = vapixPort(opts.Network.Transport)
	}
	waitCtx, cancel := context.WithTimeout(ctx, opts.ReachableWait)
	waitErr := prober.WaitReachable(waitCtx, finalAddr.IP(), probePort, func(probeCtx context.Context) (int, error) {
		_, found, msg := verifyClient.GetMACAndSerial(probeCtx)
		if !found {
			// A live device rejecting the password is reachable, just
			// misconfigured; WaitReachable reports that distinctly.
			if strings.Contains(msg, "authentication failed") {
				return http.StatusUnauthorized, errNotReachable(msg)
			}
			return 0, errNotReachable(msg)
		}
		return http.StatusOK, nil
	}, opts.PollInterval, log)
	cancel()
	if waitErr != nil {
		return failStep(rec, steps, started, StepReachable, waitErr.Error(), log)
	}
	runStep(&steps, StepReachable, true, "reachable")

	// Step 9: get-mac-and-serial, to populate verification fields.
	// Non-fatal: a failure here is logged but does not downgrade status.
	info, found, msg := verifyClient.GetMACAndSerial(ctx)
	if !found {
		runStep(&steps, StepVerify, false, msg)
		log.Warnw("could not verify device identity after reassignment", "error", msg)
	} else {
		runStep(&steps, StepVerify, true, msg)
	}

	log.Infow("provisioning succeeded", "final_addr", finalAddr.String())
	res := success(rec.HWAddr, finalAddr.String(), steps, started)
	res.TempAddr = rec.LeasedAddr.String()
	if found {
		if !info.HWAddr.Zero() {
			res.VerifiedHW = info.HWAddr.String()
		}
		res.Serial = info.Serial
	}
	return res
}

func vapixPort(transport config.Transport) int {
	if transport == config.TransportTLS {
		return 443
	}
	return 80
}

type reachabilityError string

func (e reachabilityError) Error() string { return string(e) }

func errNotReachable(msg string) error { return reachabilityError(msg) }

func failStep(rec DeviceRecord, steps []StepResult, started time.Time, step StepName, msg string, log *zap.SugaredLogger) Result {
	runStep(&steps, step, false, msg)
	log.Warnw("provisioning step failed",
		"error", zaperr.Errorw(msg, "step", string(step), "hw", rec.HWAddr.String()))
	res := failure(rec.HWAddr, step, steps, started)
	res.TempAddr = rec.LeasedAddr.String()
	return res
}
