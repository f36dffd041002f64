package server

import "github.com/gofiber/fiber/v2"

// Response: 统一 JSON 响应封装。
type Response struct {
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	Data    any          `json:"data,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail: 错误码 + 提示 + 可选字段级明细。
type ErrorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func ok(c *fiber.Ctx, status int, msg string, data any) error {
	return c.Status(status).JSON(Response{Success: true, Message: msg, Data: data})
}

func fail(c *fiber.Ctx, status int, code, msg string) error {
	return c.Status(status).JSON(Response{Success: false, Error: &ErrorDetail{Code: code, Message: msg}})
}

func failFields(c *fiber.Ctx, fields map[string]string) error {
	return c.Status(fiber.StatusBadRequest).JSON(Response{
		Success: false,
		Error:   &ErrorDetail{Code: "invalid", Message: "validación fallida", Fields: fields},
	})
}
