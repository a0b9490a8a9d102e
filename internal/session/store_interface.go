package session

import "nodewatch/internal/types"

type StoreInterface interface {
	Save(token types.SessionToken)
	Get(wallet string) (types.SessionToken, bool)
	Delete(wallet string)
	OnExpire(func(wallet string))
	Close() error
}
