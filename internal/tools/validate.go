package tools

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var allowedImageExts = []string{".jpg", ".jpeg", ".png"}

// validateRequired checks that a string input is present and non-blank.
func validateRequired(value, fieldName string) (bool, string) {
	if strings.TrimSpace(value) == "" {
		return false, fmt.Sprintf("%s 不能为空", fieldName)
	}
	return true, ""
}

// validateFileExists checks that path names an existing regular file.
func validateFileExists(path string) (bool, string) {
	info, err := os.Stat(path)
	if err != nil {
		return false, CodeFileNotFound.Message()
	}
	if info.IsDir() {
		return false, "指定路径不是文件"
	}
	return true, ""
}

// validateImageFormat checks the file extension against the supported
// image formats, case-insensitively.
func validateImageFormat(path string) (bool, string) {
	ext := filepath.Ext(path)
	if ext == "" {
		return false, "文件没有扩展名"
	}
	lower := strings.ToLower(ext)
	for _, allowed := range allowedImageExts {
		if lower == allowed {
			return true, ""
		}
	}
	return false, fmt.Sprintf("%s (支持格式: %s)", CodeInvalidFileFormat.Message(), strings.Join(allowedImageExts, ", "))
}

// validateJSON parses input as a JSON object. Non-object JSON and parse
// failures both report invalid.
func validateJSON(input string) (map[string]any, bool) {
	if strings.TrimSpace(input) == "" {
		return nil, false
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(input), &data); err != nil {
		return nil, false
	}
	return data, true
}
