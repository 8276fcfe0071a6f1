package app

import (
	"errors"

	"studiumai/pkg/auth"
)

// User-facing errors. The server maps each one to a status code and
// returns the message verbatim.
var (
	ErrEmailAndPasswordRequired = errors.New("Email and password are required")
	ErrUserExists               = errors.New("User already exists with this email")
	// ErrInvalidCredentials is shared by unknown email and wrong password.
	ErrInvalidCredentials       = errors.New("Invalid email or password")
	ErrEmailRequired            = errors.New("Email is required")
	ErrTokenAndPasswordRequired = errors.New("Token and new password are required")
	ErrPasswordTooShort         = auth.ErrPasswordTooShort
	ErrInvalidResetToken        = errors.New("Invalid or expired reset token")

	ErrNoToken      = errors.New("No token provided")
	ErrInvalidToken = errors.New("Invalid or expired token")
	ErrAccessDenied = errors.New("Access denied")

	ErrNotebookNotFound        = errors.New("Notebook not found")
	ErrTitleAndContentRequired = errors.New("Title and content are required")

	ErrNoFile          = errors.New("No file uploaded")
	ErrInvalidFileType = errors.New("Invalid file type. Only PDF, DOC, DOCX, TXT, MD, HTML and images are allowed.")
	ErrFileTooLarge    = errors.New("File too large")
	ErrSourceNotFound  = errors.New("Source not found")
	ErrFileNotFound    = errors.New("File not found on server")

	ErrConversationNotFound = errors.New("Conversation not found")
	ErrMessageRequired      = errors.New("Message content is required")
)
