package output

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"
)

// DefaultSysfsRoot is where the kernel exposes PWM chips.
const DefaultSysfsRoot = "/sys/class/pwm"

// SysfsPWM drives one channel of a kernel PWM chip through sysfs.
type SysfsPWM struct {
	dir    string
	period uint64
}

// OpenSysfsPWM exports channel on pwmchip<chip> under root if needed, programs
// the period in nanoseconds and enables the output at 0% duty.
func OpenSysfsPWM(root string, chip, channel int, period time.Duration) (*SysfsPWM, error) {
	if root == "" {
		root = DefaultSysfsRoot
	}
	if period <= 0 {
		return nil, fmt.Errorf("sysfs pwm: period must be positive")
	}
	chipDir := filepath.Join(root, fmt.Sprintf("pwmchip%d", chip))
	dir := filepath.Join(chipDir, fmt.Sprintf("pwm%d", channel))
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		if err := writeSysfs(filepath.Join(chipDir, "export"), strconv.Itoa(channel)); err != nil {
			return nil, fmt.Errorf("export pwm%d: %w", channel, err)
		}
	}

	p := &SysfsPWM{dir: dir, period: uint64(period.Nanoseconds())}
	if err := writeSysfs(filepath.Join(dir, "duty_cycle"), "0"); err != nil {
		return nil, fmt.Errorf("reset duty cycle: %w", err)
	}
	if err := writeSysfs(filepath.Join(dir, "period"), strconv.FormatUint(p.period, 10)); err != nil {
		return nil, fmt.Errorf("set period: %w", err)
	}
	if err := writeSysfs(filepath.Join(dir, "enable"), "1"); err != nil {
		return nil, fmt.Errorf("enable: %w", err)
	}
	return p, nil
}

// SetDuty implements PWM. The kernel answers EBUSY while a period change is
// in flight, which is reported as ErrBusy.
func (p *SysfsPWM) SetDuty(percent uint8) error {
	if percent > 100 {
		percent = 100
	}
	duty := p.period * uint64(percent) / 100
	err := writeSysfs(filepath.Join(p.dir, "duty_cycle"), strconv.FormatUint(duty, 10))
	if errors.Is(err, syscall.EBUSY) || errors.Is(err, syscall.EAGAIN) {
		return ErrBusy
	}
	return err
}

// Close disables the output.
func (p *SysfsPWM) Close() error {
	return writeSysfs(filepath.Join(p.dir, "enable"), "0")
}

func writeSysfs(path, value string) error {
	return os.WriteFile(path, []byte(value), 0o644)
}
