// Package i18n translates error kinds into user facing messages.
package i18n

import (
	"net/http"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/veltradev/veltra/internal/apperrors"
)

// Supported languages, the first one is the default
var supported = []language.Tag{
	language.English,
	language.Vietnamese,
}

var matcher = language.NewMatcher(supported)

var catalog = map[string]map[language.Tag]string{
	apperrors.KindUserAlreadyExists: {
		language.English:    "User with this email already exists",
		language.Vietnamese: "Người dùng với email này đã tồn tại",
	},
	apperrors.KindNotFound: {
		language.English:    "Not found",
		language.Vietnamese: "Không tìm thấy",
	},
	apperrors.KindInvalidCredentials: {
		language.English:    "Invalid email or password",
		language.Vietnamese: "Email hoặc mật khẩu không đúng",
	},
	apperrors.KindTokenExpired: {
		language.English:    "Token has expired",
		language.Vietnamese: "Token đã hết hạn",
	},
	apperrors.KindTokenInvalid: {
		language.English:    "Token is invalid",
		language.Vietnamese: "Token không hợp lệ",
	},
	apperrors.KindRefreshTokenInvalid: {
		language.English:    "Refresh token is invalid, please log in again",
		language.Vietnamese: "Refresh token không hợp lệ, vui lòng đăng nhập lại",
	},
	apperrors.KindUnauthorized: {
		language.English:    "Unauthorized",
		language.Vietnamese: "Chưa xác thực",
	},
	apperrors.KindForbidden: {
		language.English:    "You do not have permission to access this resource",
		language.Vietnamese: "Bạn không có quyền truy cập tài nguyên này",
	},
	apperrors.KindNotVerifiedAccount: {
		language.English:    "Account is not verified, please check your email",
		language.Vietnamese: "Tài khoản chưa được xác minh, vui lòng kiểm tra email",
	},
	apperrors.KindAlreadyVerified: {
		language.English:    "Account is already verified",
		language.Vietnamese: "Tài khoản đã được xác minh",
	},
	apperrors.KindConfirmPasswordMismatch: {
		language.English:    "Password confirmation does not match",
		language.Vietnamese: "Mật khẩu xác nhận không khớp",
	},
	apperrors.KindValidationFailed: {
		language.English:    "Request validation failed",
		language.Vietnamese: "Dữ liệu không hợp lệ",
	},
	apperrors.KindDecodingFailed: {
		language.English:    "Request body can't be decoded",
		language.Vietnamese: "Không thể đọc dữ liệu yêu cầu",
	},
	apperrors.KindInternal: {
		language.English:    "Internal server error",
		language.Vietnamese: "Lỗi máy chủ",
	},
}

func init() {
	for kind, translations := range catalog {
		for tag, text := range translations {
			if err := message.SetString(tag, kind, text); err != nil {
				panic(err)
			}
		}
	}
}

// Default language
func Default() language.Tag {
	return supported[0]
}

// Match the best supported language for Accept-Language header value
func Match(acceptLanguage string) language.Tag {
	acceptLanguage = strings.TrimSpace(acceptLanguage)
	if acceptLanguage == "" {
		return Default()
	}

	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return Default()
	}

	_, idx, _ := matcher.Match(tags...)
	return supported[idx]
}

// ResolveTag returns language of the request
func ResolveTag(r *http.Request) language.Tag {
	return Match(r.Header.Get("Accept-Language"))
}

// Message returns localized message of the error kind
// Unknown kind gets the internal error message
func Message(tag language.Tag, kind string) string {
	translations, ok := catalog[kind]
	if !ok {
		kind = apperrors.KindInternal
		translations = catalog[kind]
	}
	return message.NewPrinter(tag).Sprintf(message.Key(kind, translations[Default()]))
}
