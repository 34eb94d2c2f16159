package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrRendererAccessOnly ErrCode = "RENDERER_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Session ───────────────────────────────────────────────────────
	ErrSessionNotFound ErrCode = "SESSION_NOT_FOUND"
	ErrWrongPhase      ErrCode = "WRONG_PHASE"
	ErrResultsNotReady ErrCode = "RESULTS_NOT_READY"

	// ─── Exam-specific ─────────────────────────────────────────────────
	ErrInvalidGatePassword ErrCode = "INVALID_GATE_PASSWORD"
	ErrNoBlocks            ErrCode = "NO_BLOCKS"
	ErrBlockLocked         ErrCode = "BLOCK_LOCKED"
	ErrJumpNotAllowed      ErrCode = "JUMP_NOT_ALLOWED"
	ErrUnansweredQuestions ErrCode = "UNANSWERED_QUESTIONS"

	// ─── Platform ──────────────────────────────────────────────────────
	ErrPlatformUnavailable ErrCode = "PLATFORM_UNAVAILABLE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "Kata sandi stasiun salah."
	case ErrSessionInvalidated:
		return "Sesi Anda telah berakhir. Silakan login kembali."
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrRendererAccessOnly:
		return "Sumber daya ini terbatas untuk tampilan ujian."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."

	// ─── Session ───────────────────────────────────────────────────────
	case ErrSessionNotFound:
		return "Sesi ujian tidak ditemukan."
	case ErrWrongPhase:
		return "Tindakan ini tidak diperbolehkan pada tahap ujian saat ini."
	case ErrResultsNotReady:
		return "Hasil ujian belum tersedia."

	// ─── Exam-specific ─────────────────────────────────────────────────
	case ErrInvalidGatePassword:
		return "Kata sandi ujian tidak valid."
	case ErrNoBlocks:
		return "Ujian ini tidak memiliki blok soal."
	case ErrBlockLocked:
		return "Blok soal ini sudah dikunci."
	case ErrJumpNotAllowed:
		return "Perpindahan soal hanya diperbolehkan di dalam blok yang sedang aktif."
	case ErrUnansweredQuestions:
		return "Masih ada soal yang belum dijawab. Konfirmasi untuk menyelesaikan ujian."

	// ─── Platform ──────────────────────────────────────────────────────
	case ErrPlatformUnavailable:
		return "Server ujian tidak dapat dihubungi. Silakan coba lagi."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
