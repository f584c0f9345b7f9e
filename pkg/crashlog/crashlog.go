package crashlog

import (
	"bufio"
	"bytes"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/apex/log"
	"github.com/pkg/errors"
	"github.com/yafengV/CrashParser/internal/utils"
)

// REFERENCES:
//     - https://developer.apple.com/documentation/xcode/examining-the-fields-in-a-crash-report

var (
	headerRE      = regexp.MustCompile(`^(?P<key>[A-Za-z][A-Za-z0-9 /()_-]*?):\s*(?P<value>.*)$`)
	processRE     = regexp.MustCompile(`^(?P<name>.+?)\s*\[(?P<pid>\d+)\]$`)
	parenRE       = regexp.MustCompile(`^(?P<head>.*?)\s*\((?P<paren>[^()]*)\)$`)
	exceptionRE   = regexp.MustCompile(`^(?P<type>\S+)(?:\s+\((?P<signal>[^)]*)\))?`)
	threadRE      = regexp.MustCompile(`^Thread\s+(?P<num>\d+)(?P<crashed>\s+Crashed)?\s*::?\s*(?P<label>.*)$`)
	threadNameRE  = regexp.MustCompile(`^Thread\s+(?P<num>\d+)\s+name:\s*(?P<name>.*)$`)
	threadStateRE = regexp.MustCompile(`^Thread\s+\d+\s+crashed with\s+.*Thread State`)
	frameRE       = regexp.MustCompile(`^(?P<num>\d+)\s+(?P<image>\S.*?)\s+0x(?P<addr>[[:xdigit:]]+)(?:\s+(?P<rest>.*?))?\s*$`)
	loadOffsetRE  = regexp.MustCompile(`^0x(?P<load>[[:xdigit:]]+)\s*\+\s*(?P<off>\d+)$`)
	symOffsetRE   = regexp.MustCompile(`^(?P<sym>.+?)\s+\+\s+(?P<off>\d+)(?:\s+\((?P<file>[^()]+?):(?P<line>\d+)\))?$`)
	symLocRE      = regexp.MustCompile(`^(?P<sym>.+?)\s+\((?P<file>[^()]+?):(?P<line>\d+)\)$`)
	imageRE       = regexp.MustCompile(`^\s*0x(?P<start>[[:xdigit:]]+)\s*-\s*0x(?P<end>[[:xdigit:]]+)\s+\+?(?P<name>.+?)\s+` +
		`(?:(?P<arch>arm64e|arm64_32|arm64|armv7[a-z]*|armv6|i386|x86_64h|x86_64)\s+)?` +
		`(?:\((?P<version>[^)]*)\)\s+)?` +
		`<?(?P<uuid>[[:xdigit:]]{8}-?[[:xdigit:]]{4}-?[[:xdigit:]]{4}-?[[:xdigit:]]{4}-?[[:xdigit:]]{12})>?` +
		`(?:\s+(?P<path>.+?))?\s*$`)
)

type section int

const (
	sectionHeader section = iota
	sectionThread
	sectionBinaryImages
	sectionOther
	sectionDone
)

type legacyParser struct {
	report *CrashReport

	section   section
	thread    *Thread
	names     map[int]string
	triggered int
	header    int
	images    bool
}

// Open reads and parses the legacy crash report at path
func Open(path string) (*CrashReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read crash report %s", path)
	}
	return ParseLegacy(data)
}

// ParseLegacy parses the line oriented .crash text format.
func ParseLegacy(data []byte) (*CrashReport, error) {
	p := &legacyParser{
		report:    newReport(FormatLegacy),
		names:     make(map[int]string),
		triggered: -1,
	}

	scanner := bufio.NewScanner(bytes.NewReader(trimBOM(data)))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var lineNo int
	for scanner.Scan() {
		lineNo++
		if err := p.parseLine(lineNo, strings.TrimRight(scanner.Text(), " \t\r")); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, parseErr(FormatLegacy, lineNo, ErrUnrecognizedFormat, "failed to read input: %v", err)
	}

	return p.finish()
}

func (p *legacyParser) parseLine(lineNo int, line string) error {
	if p.section == sectionDone {
		return nil
	}
	if p.section == sectionBinaryImages {
		return p.parseImageLine(lineNo, line)
	}

	switch {
	case strings.HasPrefix(line, "Binary Images:"):
		p.section = sectionBinaryImages
		p.thread = nil
		p.images = true
		return nil
	case threadStateRE.MatchString(line):
		p.section = sectionOther
		p.thread = nil
		return nil
	case strings.HasPrefix(line, "Last Exception Backtrace:"):
		p.section = sectionOther
		p.thread = nil
		return nil
	}
	if m := threadNameRE.FindStringSubmatch(line); m != nil {
		num, _ := strconv.Atoi(m[threadNameRE.SubexpIndex("num")])
		p.names[num] = strings.TrimSpace(m[threadNameRE.SubexpIndex("name")])
		if p.section == sectionHeader {
			p.section = sectionOther
		}
		return nil
	}
	if m := threadRE.FindStringSubmatch(line); m != nil {
		num, err := strconv.Atoi(m[threadRE.SubexpIndex("num")])
		if err != nil {
			return parseErr(FormatLegacy, lineNo, ErrUnrecognizedFormat, "bad thread number in %q", line)
		}
		p.thread = &Thread{
			ID:      num,
			Label:   strings.TrimSpace(m[threadRE.SubexpIndex("label")]),
			Crashed: m[threadRE.SubexpIndex("crashed")] != "",
		}
		p.report.Threads = append(p.report.Threads, p.thread)
		p.section = sectionThread
		return nil
	}

	switch p.section {
	case sectionHeader:
		return p.parseHeaderLine(lineNo, line)
	case sectionThread:
		if len(line) == 0 {
			p.section = sectionOther
			p.thread = nil
			return nil
		}
		if frame := parseFrameLine(line); frame != nil {
			p.thread.Frames = append(p.thread.Frames, frame)
		} else {
			p.thread.Unparsed = append(p.thread.Unparsed, line)
		}
	}

	return nil
}

func (p *legacyParser) parseHeaderLine(lineNo int, line string) error {
	m := headerRE.FindStringSubmatch(line)
	if m == nil {
		// continuation of a multi-line value or free text
		return nil
	}
	key := strings.TrimSpace(m[headerRE.SubexpIndex("key")])
	value := strings.TrimSpace(m[headerRE.SubexpIndex("value")])
	p.header++

	md := &p.report.Metadata
	ex := &p.report.Exception

	switch key {
	case "Incident Identifier":
		md.IncidentID = value
	case "Hardware Model":
		md.DeviceModel = value
	case "Process":
		if pm := processRE.FindStringSubmatch(value); pm != nil {
			md.ProcessName = pm[processRE.SubexpIndex("name")]
			pid, err := strconv.Atoi(pm[processRE.SubexpIndex("pid")])
			if err != nil {
				return parseErr(FormatLegacy, lineNo, ErrMalformedHeader, "bad pid in %q", value)
			}
			md.PID = pid
		} else {
			md.ProcessName = value
		}
	case "Path":
		md.ProcessPath = value
	case "Identifier", "Bundle Identifier":
		md.AppID = value
	case "Version":
		if pm := parenRE.FindStringSubmatch(value); pm != nil {
			md.AppVersion = pm[parenRE.SubexpIndex("head")]
			md.AppBuild = pm[parenRE.SubexpIndex("paren")]
		} else {
			md.AppVersion = value
		}
	case "Code Type":
		md.CodeType = value
	case "OS Version":
		if pm := parenRE.FindStringSubmatch(value); pm != nil {
			md.OSVersion = pm[parenRE.SubexpIndex("head")]
			md.OSBuild = pm[parenRE.SubexpIndex("paren")]
		} else {
			md.OSVersion = value
		}
	case "Report Version":
		v, err := strconv.Atoi(value)
		if err != nil {
			return parseErr(FormatLegacy, lineNo, ErrMalformedHeader, "Report Version %q is not a number", value)
		}
		md.ReportVersion = v
	case "Date/Time":
		md.Timestamp = value
	case "Exception Type":
		if em := exceptionRE.FindStringSubmatch(value); em != nil {
			ex.Type = em[exceptionRE.SubexpIndex("type")]
			if sig := em[exceptionRE.SubexpIndex("signal")]; sig != "" {
				ex.Signal = sig
			}
		}
	case "Exception Codes":
		ex.Code = value
	case "Exception Subtype":
		ex.Subtype = value
	case "Termination Signal":
		if ex.Signal == "" {
			ex.Signal = value
		}
	case "Termination Reason":
		ex.TerminationReason = value
	case "Triggered by Thread":
		n, err := strconv.Atoi(value)
		if err != nil {
			return parseErr(FormatLegacy, lineNo, ErrMalformedHeader, "Triggered by Thread %q is not a number", value)
		}
		p.triggered = n
	default:
		log.WithField("key", key).Debug("ignoring unknown crash report header")
	}

	return nil
}

func (p *legacyParser) parseImageLine(lineNo int, line string) error {
	if len(strings.TrimSpace(line)) == 0 {
		if p.report.Images.Len() > 0 {
			p.section = sectionOther
		}
		return nil
	}
	if strings.EqualFold(strings.TrimSpace(line), "EOF") {
		p.section = sectionDone
		return nil
	}

	m := imageRE.FindStringSubmatch(line)
	if m == nil {
		return parseErr(FormatLegacy, lineNo, ErrMalformedBinaryImageLine, "%q", line)
	}
	start, err := utils.ConvertStrToInt("0x" + m[imageRE.SubexpIndex("start")])
	if err != nil {
		return parseErr(FormatLegacy, lineNo, ErrMalformedBinaryImageLine, "bad start address: %v", err)
	}
	end, err := utils.ConvertStrToInt("0x" + m[imageRE.SubexpIndex("end")])
	if err != nil {
		return parseErr(FormatLegacy, lineNo, ErrMalformedBinaryImageLine, "bad end address: %v", err)
	}

	img := BinaryImage{
		Name:             strings.TrimSpace(m[imageRE.SubexpIndex("name")]),
		Arch:             ParseArch(m[imageRE.SubexpIndex("arch")]),
		UUID:             m[imageRE.SubexpIndex("uuid")],
		LoadAddressStart: start,
		LoadAddressEnd:   end,
		Version:          m[imageRE.SubexpIndex("version")],
		Path:             m[imageRE.SubexpIndex("path")],
	}
	if err := p.report.Images.AddImage(img); err != nil {
		switch {
		case errors.Is(err, ErrDuplicateUUID):
			log.WithFields(log.Fields{
				"line": lineNo,
				"name": img.Name,
				"uuid": img.UUID,
			}).Warn("skipping binary image with duplicate UUID")
			return nil
		default:
			return parseErr(FormatLegacy, lineNo, ErrMalformedBinaryImageLine, "%v", err)
		}
	}

	return nil
}

// parseFrameLine matches one backtrace line, returning nil when it is not a frame
func parseFrameLine(line string) *StackFrame {
	m := frameRE.FindStringSubmatch(annotationRE.ReplaceAllString(line, ""))
	if m == nil {
		return nil
	}
	num, err := strconv.Atoi(m[frameRE.SubexpIndex("num")])
	if err != nil {
		return nil
	}
	addr, err := strconv.ParseUint(m[frameRE.SubexpIndex("addr")], 16, 64)
	if err != nil {
		return nil
	}

	frame := &StackFrame{
		Index:     num,
		ImageName: m[frameRE.SubexpIndex("image")],
		Address:   addr,
		Encoding:  EncodingAddress,
		Raw:       line,
	}

	rest := m[frameRE.SubexpIndex("rest")]
	if rest == "" {
		return frame
	}

	if lm := loadOffsetRE.FindStringSubmatch(rest); lm != nil {
		load, err := strconv.ParseUint(lm[loadOffsetRE.SubexpIndex("load")], 16, 64)
		if err != nil {
			return nil
		}
		frame.LoadAddress = load
		frame.Encoding = EncodingLoadOffset
		return frame
	}

	if sm := symOffsetRE.FindStringSubmatch(rest); sm != nil {
		sym := sm[symOffsetRE.SubexpIndex("sym")]
		off, err := strconv.ParseUint(sm[symOffsetRE.SubexpIndex("off")], 10, 64)
		if err != nil {
			return nil
		}
		if sym == frame.ImageName && sm[symOffsetRE.SubexpIndex("file")] == "" && off <= addr {
			// unsymbolicated frame spelled relative to the image name
			frame.LoadAddress = addr - off
			frame.Encoding = EncodingImageOffset
			return frame
		}
		frame.Encoding = EncodingSymbol
		frame.Symbol = &Symbol{
			Function:   sym,
			FuncOffset: off,
			File:       sm[symOffsetRE.SubexpIndex("file")],
			Status:     StatusEmbedded,
		}
		if l := sm[symOffsetRE.SubexpIndex("line")]; l != "" {
			frame.Symbol.Line, _ = strconv.Atoi(l)
		}
		return frame
	}

	if sm := symLocRE.FindStringSubmatch(rest); sm != nil {
		frame.Encoding = EncodingSymbol
		frame.Symbol = &Symbol{
			Function: sm[symLocRE.SubexpIndex("sym")],
			File:     sm[symLocRE.SubexpIndex("file")],
			Status:   StatusEmbedded,
		}
		frame.Symbol.Line, _ = strconv.Atoi(sm[symLocRE.SubexpIndex("line")])
		return frame
	}

	frame.Encoding = EncodingSymbol
	frame.Symbol = &Symbol{Function: rest, Status: StatusEmbedded}

	return frame
}

func (p *legacyParser) finish() (*CrashReport, error) {
	r := p.report

	if len(r.Threads) == 0 {
		return nil, parseErr(FormatLegacy, 0, ErrUnrecognizedFormat, "no thread backtraces found")
	}
	if !p.images {
		return nil, parseErr(FormatLegacy, 0, ErrUnrecognizedFormat, "no Binary Images section found")
	}
	if p.header == 0 {
		return nil, parseErr(FormatLegacy, 0, ErrMalformedHeader, "no header fields found")
	}

	crashed := false
	for _, t := range r.Threads {
		if name, ok := p.names[t.ID]; ok && t.Label == "" {
			t.Label = name
		}
		if t.Crashed {
			if crashed {
				// only one thread may be the faulting one
				t.Crashed = false
			}
			crashed = true
		}
	}
	if !crashed && p.triggered >= 0 {
		for _, t := range r.Threads {
			if t.ID == p.triggered {
				t.Crashed = true
				break
			}
		}
	}

	for _, t := range r.Threads {
		for _, f := range t.Frames {
			img, err := r.Images.LookupByAddress(f.Address)
			if err != nil {
				log.WithFields(log.Fields{
					"thread": t.ID,
					"frame":  f.Index,
					"addr":   f.Address,
				}).Debug("no binary image contains frame address")
				continue
			}
			f.ImageUUID = img.UUID
		}
	}

	return r, nil
}
