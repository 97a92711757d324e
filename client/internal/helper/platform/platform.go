// Package platform maps an (OS, architecture) pair to everything needed to fetch,
// install, detect and launch the QZ Tray helper service on that platform.
package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	goversion "github.com/hashicorp/go-version"
)

const (
	// DefaultVersion is the pinned helper release
	DefaultVersion = "2.2.5"
	// DefaultURLTemplate points at the upstream GitHub releases
	DefaultURLTemplate = "https://github.com/qzind/qz/releases/download/v%version/qz-tray-%version-%arch%ext"
	// ArtifactPlaceholder is replaced with the cached installer path when the install command is built
	ArtifactPlaceholder = "%artifact"

	VariantX86_64  = "x86_64"
	VariantArm64   = "arm64"
	VariantRiscv64 = "riscv64"
)

var (
	ErrUnsupportedPlatform     = errors.New("unsupported platform")
	ErrUnsupportedArchitecture = errors.New("unsupported architecture")
)

type key struct {
	os   string
	arch string
}

// variants is the single source of truth for supported (GOOS, GOARCH) pairs
var variants = map[key]string{
	{"windows", "amd64"}: VariantX86_64,
	{"windows", "arm64"}: VariantArm64,
	{"darwin", "amd64"}:  VariantX86_64,
	{"darwin", "arm64"}:  VariantArm64,
	{"linux", "amd64"}:   VariantX86_64,
	{"linux", "arm64"}:   VariantArm64,
	{"linux", "riscv64"}: VariantRiscv64,
}

// Location is a filesystem entry whose presence proves the helper is installed
type Location struct {
	Path string
	Dir  bool
}

type profile struct {
	ext string
	// fallback is the baseline variant used for unmapped architectures, empty when there is none
	fallback         string
	installCommand   string
	installArgs      []string
	markExecutable   bool
	installLocations func(env Env) []Location
	lookupCommand    string
	launchCommand    string
	launchArgs       []string
	launchFromLocs   bool
}

var profiles = map[string]profile{
	"windows": {
		ext:              ".exe",
		fallback:         VariantX86_64,
		installCommand:   ArtifactPlaceholder,
		installArgs:      []string{"/S"},
		installLocations: windowsLocations,
		launchFromLocs:   true,
	},
	"darwin": {
		ext:            ".pkg",
		fallback:       VariantX86_64,
		installCommand: "installer",
		installArgs:    []string{"-pkg", ArtifactPlaceholder, "-target", "/"},
		installLocations: func(Env) []Location {
			return []Location{{Path: "/Applications/QZ Tray.app", Dir: true}}
		},
		launchCommand: "open",
		launchArgs:    []string{"-a", "QZ Tray"},
	},
	"linux": {
		ext:            ".run",
		installCommand: ArtifactPlaceholder,
		installArgs:    []string{"--mode", "unattended"},
		markExecutable: true,
		lookupCommand:  "qz-tray",
		launchCommand:  "qz-tray",
	},
}

func windowsLocations(env Env) []Location {
	programFiles := env.lookup("PROGRAMFILES", `C:\Program Files`)
	programFilesX86 := env.lookup("PROGRAMFILES(X86)", `C:\Program Files (x86)`)

	dirs := []string{
		filepath.Join(programFiles, "QZ Tray"),
		filepath.Join(programFilesX86, "QZ Tray"),
	}
	if env.HomeDir != "" {
		dirs = append(dirs, filepath.Join(env.HomeDir, "AppData", "Local", "QZ Tray"))
	}

	locs := make([]Location, 0, len(dirs))
	for _, dir := range dirs {
		locs = append(locs, Location{Path: filepath.Join(dir, "qz-tray.exe")})
	}
	return locs
}

// Env supplies the environment lookups used while resolving install locations
type Env struct {
	Getenv  func(string) string
	HomeDir string
}

func (e Env) lookup(name, fallback string) string {
	if e.Getenv == nil {
		return fallback
	}
	if v := e.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// SystemEnv reads the process environment
func SystemEnv() Env {
	home, _ := os.UserHomeDir()
	return Env{Getenv: os.Getenv, HomeDir: home}
}

type Options struct {
	Version     string
	URLTemplate string
	Env         Env
}

// Target describes the helper artifact and its handling for one platform. It is computed once and never mutated.
type Target struct {
	OS      string
	Arch    string
	Variant string
	Version string

	URL      string
	Filename string

	InstallCommand string
	InstallArgs    []string
	MarkExecutable bool

	InstallLocations []Location
	LookupCommand    string

	// LaunchCandidates are tried in order when LaunchCommand is empty
	LaunchCandidates []string
	LaunchCommand    string
	LaunchArgs       []string
}

// Current resolves the target for the running binary
func Current(opts Options) (Target, error) {
	return Resolve(runtime.GOOS, runtime.GOARCH, opts)
}

// Resolve maps goos/goarch to a Target
func Resolve(goos, goarch string, opts Options) (Target, error) {
	p, ok := profiles[goos]
	if !ok {
		return Target{}, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, goos)
	}

	variant, ok := variants[key{goos, goarch}]
	if !ok {
		if p.fallback == "" {
			return Target{}, fmt.Errorf("%w: %s for platform %s", ErrUnsupportedArchitecture, goarch, goos)
		}
		variant = p.fallback
	}

	ver := opts.Version
	if ver == "" {
		ver = DefaultVersion
	}
	if _, err := goversion.NewVersion(ver); err != nil {
		return Target{}, fmt.Errorf("invalid helper version %q: %w", ver, err)
	}

	tmpl := opts.URLTemplate
	if tmpl == "" {
		tmpl = DefaultURLTemplate
	}

	t := Target{
		OS:             goos,
		Arch:           goarch,
		Variant:        variant,
		Version:        ver,
		URL:            expand(tmpl, ver, variant, p.ext),
		Filename:       fmt.Sprintf("qz-tray-%s-%s%s", ver, variant, p.ext),
		InstallCommand: p.installCommand,
		InstallArgs:    append([]string(nil), p.installArgs...),
		MarkExecutable: p.markExecutable,
		LookupCommand:  p.lookupCommand,
		LaunchCommand:  p.launchCommand,
		LaunchArgs:     append([]string(nil), p.launchArgs...),
	}

	if p.installLocations != nil {
		t.InstallLocations = p.installLocations(opts.Env)
	}
	if p.launchFromLocs {
		for _, loc := range t.InstallLocations {
			t.LaunchCandidates = append(t.LaunchCandidates, loc.Path)
		}
	}

	return t, nil
}

// InstallInvocation returns the silent-install command for the given artifact path
func (t Target) InstallInvocation(artifact string) (string, []string) {
	command := strings.ReplaceAll(t.InstallCommand, ArtifactPlaceholder, artifact)
	args := make([]string, 0, len(t.InstallArgs))
	for _, arg := range t.InstallArgs {
		args = append(args, strings.ReplaceAll(arg, ArtifactPlaceholder, artifact))
	}
	return command, args
}

// Supported lists every (GOOS, GOARCH) pair with a dedicated artifact
func Supported() [][2]string {
	pairs := make([][2]string, 0, len(variants))
	for k := range variants {
		pairs = append(pairs, [2]string{k.os, k.arch})
	}
	return pairs
}

func expand(tmpl, ver, variant, ext string) string {
	url := strings.ReplaceAll(tmpl, "%version", ver)
	url = strings.ReplaceAll(url, "%arch", variant)
	return strings.ReplaceAll(url, "%ext", ext)
}
