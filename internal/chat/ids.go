package chat

import "github.com/suPer8Hu/companion-chat/internal/common"

func NewSessionID() (string, error) {
	return common.NewULID()
}
