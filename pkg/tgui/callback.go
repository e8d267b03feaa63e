package tgui

import (
	"errors"
	"strings"
)

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes.
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")

const responsePrefix = "r"

// ResponseData encodes a response button press as "r:<alertResponseID>:<optionID>".
func ResponseData(alertResponseID, optionID string) (string, error) {
	s := responsePrefix + ":" + strings.TrimSpace(alertResponseID) + ":" + strings.TrimSpace(optionID)
	if len(s) > MaxCallbackDataLen {
		return "", ErrCallbackDataTooLong
	}
	return s, nil
}

// ParseResponseData is the inverse of ResponseData.
func ParseResponseData(data string) (alertResponseID, optionID string, ok bool) {
	parts := strings.SplitN(data, ":", 3)
	if len(parts) != 3 || parts[0] != responsePrefix || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}
