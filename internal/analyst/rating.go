package analyst

import (
	"errors"
	"fmt"
	"strings"
)

// Rating 表示模型返回的行情评级，仅用于展示，不参与结算。
type Rating struct {
	Symbol      string  `json:"symbol"`
	Rating      string  `json:"rating"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
}

var validRatings = map[string]struct{}{
	"Strong Buy":  {},
	"Buy":         {},
	"Neutral":     {},
	"Weak Sell":   {},
	"Strong Sell": {},
}

// Validate 校验评级字段合法性。
func (r Rating) Validate() error {
	rating := strings.TrimSpace(r.Rating)
	if rating == "" {
		return errors.New("rating 不能为空")
	}
	if _, ok := validRatings[rating]; !ok {
		return fmt.Errorf("rating 字段取值非法: %s", r.Rating)
	}
	if r.Confidence < 0 || r.Confidence > 100 {
		return fmt.Errorf("confidence 必须位于[0,100]: %v", r.Confidence)
	}
	return nil
}
