package database

import "fmt"

// Collections - имена коллекций документов с суффиксом окружения.
type Collections struct {
	Accounts string
	Kids     string
	Stories  string
}

// CollectionsFor возвращает имена коллекций для окружения env (dev, prod, ...).
func CollectionsFor(env string) Collections {
	return Collections{
		Accounts: fmt.Sprintf("accounts_%s", env),
		Kids:     fmt.Sprintf("users_%s", env),
		Stories:  fmt.Sprintf("stories_gen_%s", env),
	}
}

// maxPatchAttempts - сколько раз PatchPage перечитывает документ при конфликте версий.
const maxPatchAttempts = 5
