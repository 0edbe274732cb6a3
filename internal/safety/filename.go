package safety

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// fallbackFilename 在清洗结果为空或仅剩 . / .. 时顶替。
const fallbackFilename = "unnamed_file"

// maxFilenameLength 是清洗后文件名的长度上限。
const maxFilenameLength = 255

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SanitizeFilename 将任意输入清洗为可安全落盘的文件名：
// 仅保留 basename、剔除空字节、替换白名单外字符、隐藏文件加前缀、
// 空结果使用固定占位符，并在保留扩展名的前提下截断长度。
func SanitizeFilename(name string) string {
	// 同时剥除 URL 风格与本地风格的目录部分。
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "\x00", "")
	name = unsafeFilenameChars.ReplaceAllString(name, "_")

	if strings.HasPrefix(name, ".") {
		name = "_" + name
	}

	// 空输入与 . / .. 经上面的变换后只剩这几种形态。
	if name == "" || name == "_." || name == "_.." {
		name = fallbackFilename
	}

	if len(name) > maxFilenameLength {
		ext := filepath.Ext(name)
		if len(ext) >= maxFilenameLength {
			ext = ""
		}
		name = name[:maxFilenameLength-len(ext)] + ext
	}

	return name
}

// ConfinePath 组合 root/category/filename 并要求解析后的绝对路径
// 位于 root 之下。文件名清洗本应已排除逃逸，这里是刻意的纵深防御。
func ConfinePath(root, category, filename string) (string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve download root: %w", err)
	}

	localPath := filepath.Join(rootAbs, filepath.FromSlash(category), filename)
	resolved, err := filepath.Abs(localPath)
	if err != nil {
		return "", fmt.Errorf("resolve local path: %w", err)
	}

	if resolved != rootAbs && !strings.HasPrefix(resolved, rootAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: %s", localPath)
	}
	return resolved, nil
}
