package crashlog

import (
	"bytes"
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/apex/log"
	"github.com/pkg/errors"
)

// REFERENCES:
//     - https://developer.apple.com/documentation/metrickit/mxcrashdiagnostic
//     - https://developer.apple.com/documentation/metrickit/mxcallstacktree

// mkValue is a JSON scalar that MetricKit emits either as a number or a string
type mkValue string

func (v *mkValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*v = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = mkValue(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*v = mkValue(n.String())
	return nil
}

type mkMetaData struct {
	AppVersion           mkValue `json:"appVersion,omitempty"`
	AppBuildVersion      mkValue `json:"appBuildVersion,omitempty"`
	BundleIdentifier     string  `json:"bundleIdentifier,omitempty"`
	OSVersion            string  `json:"osVersion,omitempty"`
	DeviceType           string  `json:"deviceType,omitempty"`
	PlatformArchitecture string  `json:"platformArchitecture,omitempty"`
	PID                  mkValue `json:"pid,omitempty"`
	ProcessName          string  `json:"processName,omitempty"`

	ExceptionType     mkValue `json:"exceptionType,omitempty"`
	ExceptionCode     mkValue `json:"exceptionCode,omitempty"`
	Signal            mkValue `json:"signal,omitempty"`
	TerminationReason string  `json:"terminationReason,omitempty"`
}

type mkFrame struct {
	BinaryUUID  string     `json:"binaryUUID"`
	BinaryName  string     `json:"binaryName"`
	Address     uint64     `json:"address"`
	Offset      *uint64    `json:"offsetIntoBinaryTextSegment"`
	SampleCount int        `json:"sampleCount,omitempty"`
	SubFrames   []*mkFrame `json:"subFrames,omitempty"`
}

type mkCallStack struct {
	ThreadAttributed    bool       `json:"threadAttributed"`
	CallStackRootFrames []*mkFrame `json:"callStackRootFrames"`
}

type mkCallStackTree struct {
	CallStackPerThread bool          `json:"callStackPerThread"`
	CallStacks         []mkCallStack `json:"callStacks"`
}

type mkCrashDiagnostic struct {
	Version            string           `json:"version,omitempty"`
	CallStackTree      *mkCallStackTree `json:"callStackTree"`
	DiagnosticMetaData *mkMetaData      `json:"diagnosticMetaData,omitempty"`
	mkMetaData
}

type mkPayload struct {
	TimeStampBegin    string      `json:"timeStampBegin,omitempty"`
	TimeStampEnd      string      `json:"timeStampEnd,omitempty"`
	MetaData          *mkMetaData `json:"metaData,omitempty"`
	DiagnosticMetrics *struct {
		CrashDiagnostics []mkCrashDiagnostic `json:"crashDiagnostics"`
	} `json:"diagnosticMetrics,omitempty"`
	CrashDiagnostics []mkCrashDiagnostic `json:"crashDiagnostics,omitempty"`
}

func (p *mkPayload) diagnostics() []mkCrashDiagnostic {
	var out []mkCrashDiagnostic
	if p.DiagnosticMetrics != nil {
		out = append(out, p.DiagnosticMetrics.CrashDiagnostics...)
	}
	return append(out, p.CrashDiagnostics...)
}

// mach exception types from <mach/exception_types.h>
var machExceptions = map[string]string{
	"1":  "EXC_BAD_ACCESS",
	"2":  "EXC_BAD_INSTRUCTION",
	"3":  "EXC_ARITHMETIC",
	"4":  "EXC_EMULATION",
	"5":  "EXC_SOFTWARE",
	"6":  "EXC_BREAKPOINT",
	"7":  "EXC_SYSCALL",
	"8":  "EXC_MACH_SYSCALL",
	"9":  "EXC_RPC_ALERT",
	"10": "EXC_CRASH",
	"11": "EXC_RESOURCE",
	"12": "EXC_GUARD",
	"13": "EXC_CORPSE_NOTIFY",
}

var signals = map[string]string{
	"1":  "SIGHUP",
	"2":  "SIGINT",
	"3":  "SIGQUIT",
	"4":  "SIGILL",
	"5":  "SIGTRAP",
	"6":  "SIGABRT",
	"7":  "SIGEMT",
	"8":  "SIGFPE",
	"9":  "SIGKILL",
	"10": "SIGBUS",
	"11": "SIGSEGV",
	"12": "SIGSYS",
	"13": "SIGPIPE",
	"14": "SIGALRM",
	"15": "SIGTERM",
}

func lookupName(table map[string]string, v mkValue) string {
	if name, ok := table[string(v)]; ok {
		return name
	}
	return string(v)
}

// OpenMetricKit reads and parses the MetricKit payload at path
func OpenMetricKit(path string) ([]*CrashReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read MetricKit payload %s", path)
	}
	return ParseMetricKit(data)
}

// ParseMetricKit parses a MetricKit diagnostic payload (or an array of them).
// Every crash diagnostic yields its own report.
func ParseMetricKit(data []byte) ([]*CrashReport, error) {
	data = bytes.TrimSpace(trimBOM(data))

	var payloads []mkPayload
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &payloads); err != nil {
			return nil, parseErr(FormatMetricKit, 0, ErrInvalidJSON, "%v", err)
		}
	} else {
		var p mkPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, parseErr(FormatMetricKit, 0, ErrInvalidJSON, "%v", err)
		}
		payloads = append(payloads, p)
	}

	var (
		reports  []*CrashReport
		firstErr error
	)
	for pidx, p := range payloads {
		diags := p.diagnostics()
		if len(diags) == 0 {
			if firstErr == nil {
				firstErr = parseErr(FormatMetricKit, 0, ErrMissingCallStackTree, "payload %d has no crash diagnostics", pidx)
			}
			continue
		}
		for didx, diag := range diags {
			r, err := convertDiagnostic(p, diag)
			if err != nil {
				err = errors.Wrapf(err, "payload %d diagnostic %d", pidx, didx)
				if firstErr == nil {
					firstErr = err
				}
				log.WithError(err).Warn("skipping MetricKit diagnostic")
				continue
			}
			reports = append(reports, r)
		}
	}

	// a payload only fails when none of its diagnostics could be converted
	if len(reports) == 0 {
		if firstErr == nil {
			firstErr = parseErr(FormatMetricKit, 0, ErrMissingCallStackTree, "no crash diagnostics")
		}
		return nil, firstErr
	}
	return reports, nil
}

func convertDiagnostic(p mkPayload, diag mkCrashDiagnostic) (*CrashReport, error) {
	if diag.CallStackTree == nil || len(diag.CallStackTree.CallStacks) == 0 {
		return nil, parseErr(FormatMetricKit, 0, ErrMissingCallStackTree, "")
	}

	r := newReport(FormatMetricKit)
	r.Metadata.Timestamp = p.TimeStampEnd

	// payload metadata first, then the diagnostic's own fields win
	for _, md := range []*mkMetaData{p.MetaData, &diag.mkMetaData, diag.DiagnosticMetaData} {
		if md != nil {
			mergeMetaData(r, md)
		}
	}
	if r.Exception.Type == "" && r.Exception.Signal == "" {
		return nil, parseErr(FormatMetricKit, 0, ErrMissingExceptionType, "")
	}

	arch := Arch("")
	if p.MetaData != nil {
		arch = ParseArch(p.MetaData.PlatformArchitecture)
	}
	if diag.DiagnosticMetaData != nil && diag.DiagnosticMetaData.PlatformArchitecture != "" {
		arch = ParseArch(diag.DiagnosticMetaData.PlatformArchitecture)
	}

	images := make(map[string]*BinaryImage)
	var order []string

	var tid int
	for _, cs := range diag.CallStackTree.CallStacks {
		for _, root := range cs.CallStackRootFrames {
			for _, path := range flattenPaths(root) {
				t := &Thread{
					ID:      tid,
					Crashed: cs.ThreadAttributed,
				}
				tid++
				// root first in the JSON, fault point first in the model
				for i := len(path) - 1; i >= 0; i-- {
					n := path[i]
					frame := &StackFrame{
						Index:     len(t.Frames),
						ImageName: n.BinaryName,
						Address:   n.Address,
					}
					if n.Offset != nil {
						frame.SetOffset(*n.Offset)
					}
					if id, err := CanonicalUUID(n.BinaryUUID); err == nil {
						frame.ImageUUID = id
						trackImage(images, &order, id, n, arch)
					} else if n.BinaryUUID != "" {
						log.WithFields(log.Fields{
							"uuid":   n.BinaryUUID,
							"binary": n.BinaryName,
						}).Warn("ignoring frame with invalid binary UUID")
					}
					t.Frames = append(t.Frames, frame)
				}
				r.Threads = append(r.Threads, t)
			}
		}
	}

	for _, id := range order {
		if err := r.Images.AddImage(*images[id]); err != nil {
			return nil, errors.Wrap(err, "failed to build image table")
		}
	}

	return r, nil
}

func mergeMetaData(r *CrashReport, md *mkMetaData) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&r.Metadata.AppVersion, string(md.AppVersion))
	set(&r.Metadata.AppBuild, string(md.AppBuildVersion))
	set(&r.Metadata.AppID, md.BundleIdentifier)
	set(&r.Metadata.DeviceModel, md.DeviceType)
	set(&r.Metadata.ProcessName, md.ProcessName)
	set(&r.Metadata.CodeType, md.PlatformArchitecture)
	if md.OSVersion != "" {
		if pm := parenRE.FindStringSubmatch(md.OSVersion); pm != nil {
			r.Metadata.OSVersion = pm[parenRE.SubexpIndex("head")]
			r.Metadata.OSBuild = pm[parenRE.SubexpIndex("paren")]
		} else {
			r.Metadata.OSVersion = md.OSVersion
		}
	}
	if pid, err := strconv.Atoi(string(md.PID)); err == nil {
		r.Metadata.PID = pid
	}
	set(&r.Exception.Type, lookupName(machExceptions, md.ExceptionType))
	set(&r.Exception.Code, string(md.ExceptionCode))
	set(&r.Exception.Signal, lookupName(signals, md.Signal))
	set(&r.Exception.TerminationReason, strings.TrimSpace(md.TerminationReason))
}

// trackImage grows the synthesized image for id to cover the frame address
func trackImage(images map[string]*BinaryImage, order *[]string, id string, n *mkFrame, arch Arch) {
	img, ok := images[id]
	if !ok {
		img = &BinaryImage{
			Name:             n.BinaryName,
			Arch:             arch,
			UUID:             id,
			LoadAddressStart: n.Address,
			LoadAddressEnd:   n.Address,
		}
		images[id] = img
		*order = append(*order, id)
	}
	if n.Offset != nil && *n.Offset <= n.Address {
		if load := n.Address - *n.Offset; load < img.LoadAddressStart {
			img.LoadAddressStart = load
		}
	}
	if n.Address < img.LoadAddressStart {
		img.LoadAddressStart = n.Address
	}
	if n.Address > img.LoadAddressEnd {
		img.LoadAddressEnd = n.Address
	}
}

// flattenPaths returns every root-to-leaf path under root, root first
func flattenPaths(root *mkFrame) [][]*mkFrame {
	var paths [][]*mkFrame
	var walk func(n *mkFrame, prefix []*mkFrame)
	walk = func(n *mkFrame, prefix []*mkFrame) {
		path := append(prefix[:len(prefix):len(prefix)], n)
		if len(n.SubFrames) == 0 {
			paths = append(paths, path)
			return
		}
		for _, sub := range n.SubFrames {
			walk(sub, path)
		}
	}
	if root != nil {
		walk(root, nil)
	}
	return paths
}
