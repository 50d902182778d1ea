package cache

import "fmt"

// ChatListKey is the cache key of one page of a user's chat list.
func ChatListKey(userID int64, page, limit int) string {
	return fmt.Sprintf("%s%d:%d", ChatListPrefix(userID), page, limit)
}

// ChatListPrefix covers every cached chat list page of a user.
func ChatListPrefix(userID int64) string {
	return fmt.Sprintf("chats:list:%d:", userID)
}
