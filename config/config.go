// Package config loads the boot configuration of the kernel.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"upkernel/kernel/mm"
)

// EnvPrefix is the prefix of the environment variables that override
// configuration keys; UPKERNEL_MEMORY_SIZE overrides memory.size.
const EnvPrefix = "UPKERNEL"

var (
	errUnalignedBase     = errors.New("memory.base is not page aligned")
	errUnalignedSize     = errors.New("memory.size is not page aligned")
	errReservedTooSmall  = errors.New("memory.kernel_reserved must cover the trampoline and trap handler pages")
	errReservedTooLarge  = errors.New("memory.kernel_reserved leaves no room for the frame allocator")
	errNegativeTimeSlice = errors.New("scheduler.time_slice must not be negative")
	errNoAppsURL         = errors.New("apps.url is empty")
)

// Config holds the boot configuration.
type Config struct {
	Memory    MemoryConfig
	Apps      AppsConfig
	Scheduler SchedulerConfig
	Log       LogConfig
	Trace     TraceConfig
}

// MemoryConfig describes the simulated physical memory.
type MemoryConfig struct {
	Base uint64
	Size uint64

	// KernelReserved is the number of bytes at the start of memory that
	// hold the kernel image. Frames are handed out from Base+KernelReserved.
	// The first two pages hold the trampoline and the trap handler, so at
	// least two pages must be reserved.
	KernelReserved uint64 `mapstructure:"kernel_reserved"`
}

// AppsConfig describes where app images are loaded from.
type AppsConfig struct {
	URL string
}

// SchedulerConfig holds the scheduling settings.
type SchedulerConfig struct {
	// TimeSlice is the number of instructions a task may run before it is
	// preempted. 0 disables preemption.
	TimeSlice int `mapstructure:"time_slice"`
}

// LogConfig holds the logger settings.
type LogConfig struct {
	Level string
}

// TraceConfig holds the tracing settings.
type TraceConfig struct {
	// Output is the file spans are written to. "-" selects stdout and an
	// empty value disables tracing.
	Output string
}

// EKernel returns the first address past the kernel image.
func (c MemoryConfig) EKernel() uintptr {
	return uintptr(c.Base + c.KernelReserved)
}

// End returns the first address past the physical memory.
func (c MemoryConfig) End() uintptr {
	return uintptr(c.Base + c.Size)
}

// Load reads the configuration from the YAML file at path, if path is not
// empty, and applies environment overrides on top of the defaults.
func Load(path string) (Config, error) {
	v := viper.New()

	v.SetDefault("memory.base", uint64(0x80000000))
	v.SetDefault("memory.size", uint64(8*mm.Mb))
	v.SetDefault("memory.kernel_reserved", uint64(1*mm.Mb))
	v.SetDefault("apps.url", "./apps")
	v.SetDefault("scheduler.time_slice", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("trace.output", "")

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

// Validate checks that the memory layout can hold the kernel and at least
// one free frame and that the remaining settings are usable.
func (c Config) Validate() error {
	switch {
	case !mm.PageAligned(uintptr(c.Memory.Base)):
		return errUnalignedBase
	case !mm.PageAligned(uintptr(c.Memory.Size)):
		return errUnalignedSize
	case c.Memory.KernelReserved < 2*uint64(mm.PageSize):
		return errReservedTooSmall
	case c.Memory.KernelReserved+uint64(mm.PageSize) > c.Memory.Size:
		return errReservedTooLarge
	case c.Scheduler.TimeSlice < 0:
		return errNegativeTimeSlice
	case c.Apps.URL == "":
		return errNoAppsURL
	}

	return nil
}
