package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonAudioLoad   ReasonCode = "audio_load"
	ReasonAudioDecode ReasonCode = "audio_decode"

	ReasonConflict      ReasonCode = "conflict"
	ReasonSessionClosed ReasonCode = "session_closed"

	ReasonProviderTimeout        ReasonCode = "provider_timeout"
	ReasonTranscriptionAmbiguous ReasonCode = "transcription_ambiguous"

	ReasonSTTConnect    ReasonCode = "stt_connect"
	ReasonSTTTranscribe ReasonCode = "stt_transcribe"
	ReasonSTTRateLimit  ReasonCode = "stt_rate_limit"

	ReasonTTSConnect    ReasonCode = "tts_connect"
	ReasonTTSSynthesize ReasonCode = "tts_synthesize"
	ReasonTTSRateLimit  ReasonCode = "tts_rate_limit"

	ReasonQAAnswer    ReasonCode = "qa_answer"
	ReasonQARateLimit ReasonCode = "qa_rate_limit"

	ReasonStoreRead  ReasonCode = "store_read"
	ReasonStoreWrite ReasonCode = "store_write"

	ReasonSegmentList  ReasonCode = "segment_list"
	ReasonSegmentAudio ReasonCode = "segment_audio"

	ReasonTransportSend ReasonCode = "transport_send"
)
