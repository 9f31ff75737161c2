// Package storage хранит сгенерированные изображения и возвращает их публичные URL.
package storage

import (
	"fmt"
	"net/url"
	"strings"
)

// PNGContentType - тип содержимого всех сгенерированных изображений.
const PNGContentType = "image/png"

// PageImagePath - путь изображения страницы n.
func PageImagePath(accountID, userID, storyID string, pageNum int) string {
	return fmt.Sprintf("accounts/%s/users/%s/stories/%s/pages/page-%d.png", accountID, userID, storyID, pageNum)
}

// AvatarPath - путь аватара ребенка.
func AvatarPath(accountID, userID string) string {
	return fmt.Sprintf("accounts/%s/users/%s/avatars/avatar.png", accountID, userID)
}

// CoverPath - путь обложки истории.
func CoverPath(accountID, userID, storyID string) string {
	return fmt.Sprintf("accounts/%s/users/%s/stories/%s/cover.png", accountID, userID, storyID)
}

// objectURL собирает публичный URL объекта, экранируя каждый сегмент пути.
func objectURL(base, bucket, path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.TrimRight(base, "/") + "/" + bucket + "/" + strings.Join(segments, "/")
}
