package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Identity ──────────────────────────────────────────────────────
	ErrTokenRequired    ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid     ErrCode = "TOKEN_INVALID"
	ErrIdentityMismatch ErrCode = "IDENTITY_MISMATCH"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound        ErrCode = "NOT_FOUND"
	ErrExamNotFound    ErrCode = "EXAM_NOT_FOUND"
	ErrSessionNotFound ErrCode = "SESSION_NOT_FOUND"
	ErrResultNotFound  ErrCode = "RESULT_NOT_FOUND"

	// ─── Exam session ──────────────────────────────────────────────────
	ErrExamNotOpened    ErrCode = "EXAM_NOT_OPENED"
	ErrExamClosed       ErrCode = "EXAM_CLOSED"
	ErrQuotaExceeded    ErrCode = "ATTEMPT_QUOTA_EXCEEDED"
	ErrSessionActive    ErrCode = "SESSION_ALREADY_ACTIVE"
	ErrNoActiveSession  ErrCode = "NO_ACTIVE_SESSION"
	ErrAlreadySubmitted ErrCode = "ALREADY_SUBMITTED"
	ErrInvalidExam      ErrCode = "INVALID_EXAM"
	ErrExamNotAvailable ErrCode = "EXAM_NOT_AVAILABLE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
	ErrStore    ErrCode = "STORE_UNAVAILABLE"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Identity ──────────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."
	case ErrIdentityMismatch:
		return "Email pada token tidak sesuai dengan email permintaan."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."
	case ErrExamNotFound:
		return "Ujian tidak ditemukan."
	case ErrSessionNotFound:
		return "Sesi ujian tidak ditemukan."
	case ErrResultNotFound:
		return "Hasil ujian tidak ditemukan."

	// ─── Exam session ──────────────────────────────────────────────────
	case ErrExamNotOpened:
		return "Ujian belum dibuka."
	case ErrExamClosed:
		return "Ujian sudah ditutup."
	case ErrQuotaExceeded:
		return "Batas percobaan ujian sudah tercapai."
	case ErrSessionActive:
		return "Anda masih memiliki sesi ujian yang sedang berjalan."
	case ErrNoActiveSession:
		return "Tidak ada sesi ujian yang sedang berjalan."
	case ErrAlreadySubmitted:
		return "Ujian ini sudah dikumpulkan."
	case ErrInvalidExam:
		return "Ujian ini tidak dapat dikerjakan."
	case ErrExamNotAvailable:
		return "Ujian ini saat ini tidak tersedia."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	case ErrStore:
		return "Penyimpanan data sedang tidak tersedia."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
