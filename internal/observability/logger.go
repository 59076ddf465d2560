package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", getHostname()).
		Logger()

	return &Logger{
		logger: logger,
	}
}

// WithSession adds session_id context to logger.
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("session_id", sessionID).Logger(),
	}
}

// WithPeer adds peer_id context to logger.
func (l *Logger) WithPeer(peerID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("peer_id", peerID).Logger(),
	}
}

// WithFile adds file_id context to logger.
func (l *Logger) WithFile(fileID string, fileSize int64) *Logger {
	return &Logger{
		logger: l.logger.With().
			Str("file_id", fileID).
			Int64("file_size", fileSize).
			Logger(),
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(err error, msg string) {
	l.logger.Fatal().Err(err).Msg(msg)
}

// UploadInitiated logs an upload's init_upload call.
func (l *Logger) UploadInitiated(fileID, filename string, totalChunks int, pipeline string) {
	l.logger.Info().
		Str("file_id", fileID).
		Str("filename", filename).
		Int("total_chunks", totalChunks).
		Str("pipeline", pipeline).
		Msg("upload initiated")
}

// ChunkIngested logs one chunk's arrival at the assembler.
func (l *Logger) ChunkIngested(fileID string, sequence int, payloadSize int, isParity bool) {
	l.logger.Debug().
		Str("file_id", fileID).
		Int("sequence", sequence).
		Int("payload_size", payloadSize).
		Bool("is_parity", isParity).
		Msg("chunk ingested")
}

// StageCompleted logs one pipeline stage's metrics as finish progresses
// through FEC decode, decrypt, decompress, and size-check.
func (l *Logger) StageCompleted(fileID, stage string, inputBytes, outputBytes int, elapsed time.Duration) {
	l.logger.Info().
		Str("file_id", fileID).
		Str("stage", stage).
		Int("input_bytes", inputBytes).
		Int("output_bytes", outputBytes).
		Float64("elapsed_seconds", elapsed.Seconds()).
		Msg("pipeline stage completed")
}

// UploadCompleted logs a successful finish call.
func (l *Logger) UploadCompleted(fileID string, fileSize int64, duration time.Duration, merkleVerified bool) {
	l.logger.Info().
		Str("file_id", fileID).
		Int64("file_size", fileSize).
		Float64("duration_seconds", duration.Seconds()).
		Bool("merkle_verified", merkleVerified).
		Msg("upload completed successfully")
}

// StageFailed logs a pipeline stage's failure, with the upload error kind.
func (l *Logger) StageFailed(fileID, stage string, errorKind string, errorMsg string) {
	l.logger.Error().
		Str("file_id", fileID).
		Str("stage", stage).
		Str("error_kind", errorKind).
		Str("error_message", errorMsg).
		Msg("pipeline stage failed")
}

// HandshakeEstablished logs a completed X25519 handshake.
func (l *Logger) HandshakeEstablished(remoteAddr string, sessionID string) {
	l.logger.Info().
		Str("remote_addr", remoteAddr).
		Str("session_id", sessionID).
		Msg("handshake established")
}

// HandshakeFailed logs a rejected handshake request.
func (l *Logger) HandshakeFailed(remoteAddr string, err error) {
	l.logger.Error().
		Str("remote_addr", remoteAddr).
		Err(err).
		Msg("handshake failed")
}

// Helper function to get hostname.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
