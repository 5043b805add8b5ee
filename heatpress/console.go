package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/itohio/heatpress/pkg/control"
	"github.com/itohio/heatpress/pkg/press"
)

var errUsage = errors.New("usage")

const helpText = `commands:
  run <shirts> [single|double] [id]   start a print run
  start [stage1 stage2]               start the next cycle (seconds)
  abort                               switch the heater off and abort the cycle
  status                              show press status
  target <celsius>                    change the platen setpoint
  pid <kp> <ki> <kd>                  change the PID gains
  stages <stage1> <stage2>            change the default stage durations
  quit                                stop the press`

// console is the line based operator interface.
type console struct {
	ctrl  *control.Controller
	clock press.Clock
	out   io.Writer
}

// serve executes commands from in until quit, EOF or ctx is done.
func (c *console) serve(ctx context.Context, in io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(c.out, "type 'help' for commands")
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			quit, err := c.exec(line)
			if err != nil {
				fmt.Fprintf(c.out, "error: %v\n", err)
			}
			if quit {
				return
			}
		}
	}
}

// exec runs a single command line. It reports whether the operator asked
// to quit.
func (c *console) exec(line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	now := c.clock.Now()

	switch cmd {
	case "help", "?":
		fmt.Fprintln(c.out, helpText)
	case "quit", "exit":
		return true, nil
	case "status":
		c.printStatus(c.ctrl.Status())
	case "run":
		return false, c.startRun(args, now)
	case "start":
		return false, c.startCycle(args, now)
	case "abort":
		aborted, err := c.ctrl.Abort(control.ReasonOperator, now)
		if aborted {
			fmt.Fprintln(c.out, "cycle aborted, heater off")
		} else {
			fmt.Fprintln(c.out, "heater off, no active cycle")
		}
		return false, err
	case "target":
		if len(args) != 1 {
			return false, fmt.Errorf("%w: target <celsius>", errUsage)
		}
		temp, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return false, fmt.Errorf("invalid temperature %q", args[0])
		}
		s := c.ctrl.Settings()
		s.TargetTemp = temp
		return false, c.update(s)
	case "pid":
		if len(args) != 3 {
			return false, fmt.Errorf("%w: pid <kp> <ki> <kd>", errUsage)
		}
		var gains [3]float64
		for i, arg := range args {
			v, err := strconv.ParseFloat(arg, 64)
			if err != nil {
				return false, fmt.Errorf("invalid gain %q", arg)
			}
			gains[i] = v
		}
		s := c.ctrl.Settings()
		s.Kp, s.Ki, s.Kd = gains[0], gains[1], gains[2]
		return false, c.update(s)
	case "stages":
		if len(args) != 2 {
			return false, fmt.Errorf("%w: stages <stage1> <stage2>", errUsage)
		}
		s1, s2, err := parseStages(args)
		if err != nil {
			return false, err
		}
		s := c.ctrl.Settings()
		s.Stage1Default, s.Stage2Default = s1, s2
		return false, c.update(s)
	default:
		return false, fmt.Errorf("unknown command %q, type 'help'", cmd)
	}
	return false, nil
}

func (c *console) startRun(args []string, now time.Time) error {
	if len(args) < 1 || len(args) > 3 {
		return fmt.Errorf("%w: run <shirts> [single|double] [id]", errUsage)
	}
	shirts, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil {
		return fmt.Errorf("invalid shirt count %q", args[0])
	}
	runType := press.RunSingleSided
	if len(args) > 1 {
		if err := runType.UnmarshalText([]byte(args[1])); err != nil {
			return err
		}
	}
	id := uint32(now.Unix())
	if len(args) > 2 {
		v, err := strconv.ParseUint(args[2], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid run id %q", args[2])
		}
		id = uint32(v)
	}

	run, err := c.ctrl.StartRun(id, uint16(shirts), runType, now)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "run %d started: %d shirts, %s sided\n", run.ID, run.NumShirts, run.Type)
	return nil
}

func (c *console) startCycle(args []string, now time.Time) error {
	var (
		tr  press.Transition
		err error
	)
	switch len(args) {
	case 0:
		tr, err = c.ctrl.StartNextCycle(now)
	case 2:
		s1, s2, perr := parseStages(args)
		if perr != nil {
			return perr
		}
		tr, err = c.ctrl.StartCycle(now, s1, s2)
	default:
		return fmt.Errorf("%w: start [stage1 stage2]", errUsage)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "pressing shirt %d %s: %ds + %ds\n", tr.Cycle.ShirtID, tr.Cycle.Side,
		tr.Cycle.Stage1Duration, tr.Cycle.Stage2Duration)
	return nil
}

func (c *console) update(s press.Settings) error {
	if err := c.ctrl.UpdateSettings(s); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "settings saved: target %.1f°C, pid %g/%g/%g, stages %ds + %ds\n",
		s.TargetTemp, s.Kp, s.Ki, s.Kd, s.Stage1Default, s.Stage2Default)
	return nil
}

func (c *console) printStatus(st control.Status) {
	temp := fmt.Sprintf("%.1f°C", st.Temperature)
	switch {
	case st.SensorError != nil:
		temp = "sensor fault: " + st.SensorError.Error()
	case st.Stale:
		temp += " (stale)"
	}
	fmt.Fprintf(c.out, "platen:  %s, target %.1f°C, rate %+.2f°C/s\n", temp, st.Target, st.Rate)
	fmt.Fprintf(c.out, "heater:  %d%%, interlock %s\n", st.Power, onOff(st.Heating))

	if st.Cycle != nil {
		cy := st.Cycle
		fmt.Fprintf(c.out, "cycle:   shirt %d %s, %s", cy.ShirtID, cy.Side, cy.Status)
		if cy.Status.Active() {
			fmt.Fprintf(c.out, ", %s remaining", st.Remaining.Round(time.Second))
		}
		if cy.AbortReason != "" {
			fmt.Fprintf(c.out, " (%s)", cy.AbortReason)
		}
		fmt.Fprintln(c.out)
	}
	if st.Run != nil {
		r := st.Run
		fmt.Fprintf(c.out, "run:     %d, shirt %d of %d (%s), %d done, avg %s\n", r.ID, r.Progress, r.NumShirts,
			r.Type, r.ShirtsCompleted, time.Duration(r.AvgTimePerShirt)*time.Second)
	} else {
		fmt.Fprintln(c.out, "run:     none")
	}
	if st.Degraded {
		fmt.Fprintf(c.out, "storage: degraded, %d failed writes\n", st.CheckpointFailures)
	}
}

func parseStages(args []string) (uint16, uint16, error) {
	var d [2]uint16
	for i, arg := range args {
		v, err := strconv.ParseUint(arg, 10, 16)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid stage duration %q", arg)
		}
		d[i] = uint16(v)
	}
	return d[0], d[1], nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
