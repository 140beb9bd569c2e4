package rest

import (
	"fmt"
)

const (
	CodeSuccess int = 2000
)

var (
	successMeta = Meta{
		Code:    CodeSuccess,
		Message: "OK",
	}
)

type Meta struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type Response struct {
	Meta Meta        `json:"meta"`
	Data interface{} `json:"data"`
}

type ListData struct {
	Rows       interface{} `json:"rows"`
	TotalCount int         `json:"total_count"`
}

func SuccessResp(data interface{}) Response {
	return Response{
		Meta: successMeta,
		Data: data,
	}
}

func ErrorResp(code int, errMsg string, data interface{}) Response {
	return Response{
		Meta: Meta{
			Code:    code,
			Message: errMsg,
		},
		Data: data,
	}
}

type Error struct {
	Code        int
	Message     string
	OriginError error
}

func (e Error) Error() string {
	return fmt.Sprintf("Code %d.Message %s.Origin error %+v", e.Code, e.Message, e.OriginError)
}

func NewListData(datas interface{}, totalCount int) ListData {
	return ListData{
		Rows:       datas,
		TotalCount: totalCount,
	}
}
