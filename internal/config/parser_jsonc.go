package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type jsoncConfig struct {
	Audio      *jsoncAudio      `json:"audio"`
	VAD        *jsoncVAD        `json:"vad"`
	Recognizer *jsoncRecognizer `json:"recognizer"`
	Session    *jsoncSession    `json:"session"`
	Debug      *jsoncDebug      `json:"debug"`
	Metrics    *jsoncListen     `json:"metrics"`
	EventFeed  *jsoncEventFeed  `json:"eventfeed"`
	Logging    *jsoncLogging    `json:"logging"`
	Cues       *jsoncCues       `json:"cues"`
}

type jsoncAudio struct {
	Device            *string `json:"device"`
	FallbackToDefault *bool   `json:"fallback_to_default"`
	CaptureRateHz     *int    `json:"capture_rate_hz"`
	TargetRateHz      *int    `json:"target_rate_hz"`
	FrameMs           *int    `json:"frame_ms"`
	FramesPerBlock    *int    `json:"frames_per_block"`
}

type jsoncVAD struct {
	LeadInMs      *int  `json:"lead_in_ms"`
	TailMs        *int  `json:"tail_ms"`
	NoiseWindowMs *int  `json:"noise_window_ms"`
	SilenceLevel  *int  `json:"silence_level"`
	AutoStop      *bool `json:"auto_stop"`
}

type jsoncRecognizer struct {
	Endpoint       *string         `json:"endpoint"`
	ResultKind     *string         `json:"result_kind"`
	NLIHint        json.RawMessage `json:"nli_hint"`
	UploadBatchMs  *int            `json:"upload_batch_ms"`
	PollIntervalMs *int            `json:"poll_interval_ms"`
	TimeoutMs      *int            `json:"timeout_ms"`
	Compression    *string         `json:"compression"`
	DialTimeoutMs  *int            `json:"dial_timeout_ms"`
}

type jsoncSession struct {
	Continuous        *bool   `json:"continuous"`
	StartWaitMs       *int    `json:"start_wait_ms"`
	StartWaitAttempts *int    `json:"start_wait_attempts"`
	QueueCapacity     *int    `json:"queue_capacity"`
	EventBuffer       *int    `json:"event_buffer"`
	SocketPath        *string `json:"socket_path"`
}

type jsoncDebug struct {
	RecordWAV *bool   `json:"record_wav"`
	RecordDir *string `json:"record_dir"`
}

type jsoncListen struct {
	Listen *string `json:"listen"`
}

type jsoncEventFeed struct {
	Listen *string `json:"listen"`
	Path   *string `json:"path"`
}

type jsoncLogging struct {
	Level  *string `json:"level"`
	Pretty *bool   `json:"pretty"`
}

type jsoncCues struct {
	Enable *bool `json:"enable"`
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	warnings, err := payload.applyTo(&cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, warnings, nil
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func setTrimmed(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func (payload jsoncConfig) applyTo(cfg *Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if a := payload.Audio; a != nil {
		setTrimmed(&cfg.Audio.Device, a.Device)
		set(&cfg.Audio.FallbackToDefault, a.FallbackToDefault)
		set(&cfg.Audio.CaptureRateHz, a.CaptureRateHz)
		set(&cfg.Audio.TargetRateHz, a.TargetRateHz)
		set(&cfg.Audio.FrameMs, a.FrameMs)
		set(&cfg.Audio.FramesPerBlock, a.FramesPerBlock)
	}

	if v := payload.VAD; v != nil {
		set(&cfg.VAD.LeadInMs, v.LeadInMs)
		set(&cfg.VAD.TailMs, v.TailMs)
		set(&cfg.VAD.NoiseWindowMs, v.NoiseWindowMs)
		set(&cfg.VAD.SilenceLevel, v.SilenceLevel)
		set(&cfg.VAD.AutoStop, v.AutoStop)
	}

	if r := payload.Recognizer; r != nil {
		setTrimmed(&cfg.Recognizer.Endpoint, r.Endpoint)
		setTrimmed(&cfg.Recognizer.ResultKind, r.ResultKind)
		setTrimmed(&cfg.Recognizer.Compression, r.Compression)
		set(&cfg.Recognizer.UploadBatchMs, r.UploadBatchMs)
		set(&cfg.Recognizer.PollIntervalMs, r.PollIntervalMs)
		set(&cfg.Recognizer.TimeoutMs, r.TimeoutMs)
		set(&cfg.Recognizer.DialTimeoutMs, r.DialTimeoutMs)
		if len(r.NLIHint) > 0 {
			hint, err := parseHint(r.NLIHint)
			if err != nil {
				return nil, fmt.Errorf("recognizer.nli_hint: %w", err)
			}
			cfg.Recognizer.NLIHint = hint
		}
	}

	if s := payload.Session; s != nil {
		set(&cfg.Session.Continuous, s.Continuous)
		set(&cfg.Session.StartWaitMs, s.StartWaitMs)
		set(&cfg.Session.StartWaitAttempts, s.StartWaitAttempts)
		set(&cfg.Session.QueueCapacity, s.QueueCapacity)
		set(&cfg.Session.EventBuffer, s.EventBuffer)
		set(&cfg.Session.SocketPath, s.SocketPath)
	}

	if d := payload.Debug; d != nil {
		set(&cfg.Debug.RecordWAV, d.RecordWAV)
		setTrimmed(&cfg.Debug.RecordDir, d.RecordDir)
	}

	if payload.Metrics != nil {
		setTrimmed(&cfg.Metrics.Listen, payload.Metrics.Listen)
	}

	if e := payload.EventFeed; e != nil {
		setTrimmed(&cfg.EventFeed.Listen, e.Listen)
		setTrimmed(&cfg.EventFeed.Path, e.Path)
	}

	if l := payload.Logging; l != nil {
		setTrimmed(&cfg.Logging.Level, l.Level)
		set(&cfg.Logging.Pretty, l.Pretty)
	}

	if payload.Cues != nil {
		set(&cfg.Cues.Enable, payload.Cues.Enable)
	}

	return warnings, nil
}

// parseHint accepts a JSON object; null clears the hint.
func parseHint(raw []byte) (map[string]any, error) {
	if strings.TrimSpace(string(raw)) == "null" {
		return nil, nil
	}
	var hint map[string]any
	if err := json.Unmarshal(raw, &hint); err != nil {
		return nil, errors.New("must be a JSON object")
	}
	return hint, nil
}

// normalizeJSONC blanks out comments and drops trailing commas so the result
// decodes as strict JSON. Offsets are preserved for error positions except
// where a trailing comma was removed.
func normalizeJSONC(content string) (string, error) {
	blanked, err := blankComments(content)
	if err != nil {
		return "", err
	}
	return dropTrailingCommas(blanked), nil
}

// scanner walks JSON text and tracks whether the cursor is inside a string.
type scanner struct {
	inString bool
	escape   bool
}

// step consumes ch and reports whether it belongs to a string literal.
func (s *scanner) step(ch byte) bool {
	switch {
	case s.escape:
		s.escape = false
		return true
	case s.inString:
		switch ch {
		case '\\':
			s.escape = true
		case '"':
			s.inString = false
		}
		return true
	case ch == '"':
		s.inString = true
		return true
	default:
		return false
	}
}

func blankComments(content string) (string, error) {
	out := []byte(content)
	var sc scanner

	for i := 0; i < len(out); i++ {
		if sc.step(out[i]) || out[i] != '/' || i+1 >= len(out) {
			continue
		}

		switch out[i+1] {
		case '/':
			for i < len(out) && out[i] != '\n' && out[i] != '\r' {
				out[i] = ' '
				i++
			}
		case '*':
			end := strings.Index(content[i+2:], "*/")
			if end < 0 {
				return "", fmt.Errorf("unterminated block comment in JSONC")
			}
			stop := i + 2 + end + 2
			for ; i < stop; i++ {
				if !isJSONWhitespace(out[i]) {
					out[i] = ' '
				}
			}
			i--
		}
	}
	return string(out), nil
}

func dropTrailingCommas(content string) string {
	var out strings.Builder
	out.Grow(len(content))
	var sc scanner

	for i := 0; i < len(content); i++ {
		ch := content[i]
		if !sc.step(ch) && ch == ',' {
			j := i + 1
			for j < len(content) && isJSONWhitespace(content[j]) {
				j++
			}
			if j < len(content) && (content[j] == '}' || content[j] == ']') {
				continue
			}
		}
		out.WriteByte(ch)
	}
	return out.String()
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	limit := min(int(offset), len(content))
	line, col := 1, 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
