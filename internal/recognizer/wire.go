package recognizer

import (
	"encoding/base64"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName = "hark.recognizer.v1.Recognizer"

	uploadMethod = "/" + serviceName + "/UploadAudio"
	pollMethod   = "/" + serviceName + "/PollResult"
)

func encodeUpload(u Upload) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"cookie":      string(u.Cookie),
		"audio":       base64.StdEncoding.EncodeToString(u.Audio),
		"final":       u.Final,
		"encoding":    u.Encoding,
		"sample_rate": u.SampleRate,
	})
}

func decodeUpload(s *structpb.Struct) (Upload, error) {
	f := s.GetFields()
	audio, err := base64.StdEncoding.DecodeString(f["audio"].GetStringValue())
	if err != nil {
		return Upload{}, fmt.Errorf("decode audio: %w", err)
	}
	return Upload{
		Cookie:     Cookie(f["cookie"].GetStringValue()),
		Audio:      audio,
		Final:      f["final"].GetBoolValue(),
		Encoding:   f["encoding"].GetStringValue(),
		SampleRate: int(f["sample_rate"].GetNumberValue()),
	}, nil
}

func encodeUploadResponse(r UploadResponse) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"ok":            r.OK,
		"error_code":    r.ErrorCode,
		"error_message": r.ErrorMessage,
	})
}

func decodeUploadResponse(s *structpb.Struct) UploadResponse {
	f := s.GetFields()
	return UploadResponse{
		OK:           f["ok"].GetBoolValue(),
		ErrorCode:    f["error_code"].GetStringValue(),
		ErrorMessage: f["error_message"].GetStringValue(),
	}
}

func encodeQuery(q Query) (*structpb.Struct, error) {
	fields := map[string]any{
		"cookie": string(q.Cookie),
		"kind":   q.Kind.String(),
	}
	if q.Kind != KindSTT && len(q.Hint) > 0 {
		fields["nli_hint"] = q.Hint
	}
	return structpb.NewStruct(fields)
}

func decodeQuery(s *structpb.Struct) (Query, error) {
	f := s.GetFields()
	kind, err := ParseResultKind(f["kind"].GetStringValue())
	if err != nil {
		return Query{}, err
	}
	q := Query{Cookie: Cookie(f["cookie"].GetStringValue()), Kind: kind}
	if hint := f["nli_hint"].GetStructValue(); hint != nil {
		q.Hint = hint.AsMap()
	}
	return q, nil
}

func encodePollResponse(r PollResponse) (*structpb.Struct, error) {
	fields := map[string]any{
		"ok":            r.OK,
		"error_code":    r.ErrorCode,
		"error_message": r.ErrorMessage,
		"has_data":      r.HasData,
		"transcript": map[string]any{
			"text":     r.Transcript.Text,
			"complete": r.Transcript.Complete,
			"status":   r.Transcript.Status,
		},
	}
	if len(r.NLI) > 0 {
		fields["nli"] = r.NLI
	}
	return structpb.NewStruct(fields)
}

func decodePollResponse(s *structpb.Struct) PollResponse {
	f := s.GetFields()
	t := f["transcript"].GetStructValue().GetFields()
	r := PollResponse{
		OK:           f["ok"].GetBoolValue(),
		ErrorCode:    f["error_code"].GetStringValue(),
		ErrorMessage: f["error_message"].GetStringValue(),
		HasData:      f["has_data"].GetBoolValue(),
		Transcript: Transcript{
			Text:     t["text"].GetStringValue(),
			Complete: t["complete"].GetBoolValue(),
			Status:   int(t["status"].GetNumberValue()),
		},
	}
	if nli := f["nli"].GetStructValue(); nli != nil {
		r.NLI = nli.AsMap()
	}
	return r
}
