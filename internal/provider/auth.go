package provider

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
)

const maxLoginResponse = 64 << 10

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type loginResponse struct {
	Code    string `json:"code"`
	SSID    string `json:"ssid"`
	Message string `json:"message"`
}

// login получает ssid через REST API провайдера
func (p *WSProvider) login(ctx context.Context, login, password string) (string, error) {
	body, err := json.Marshal(loginRequest{Identifier: login, Password: password})
	if err != nil {
		return "", err
	}

	endpoint := strings.TrimRight(p.config.APIURL, "/") + "/v2/login"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return "", &ProviderError{Op: "login", Message: "request failed", Original: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxLoginResponse))
	if err != nil {
		return "", &ProviderError{Op: "login", Message: "read response", Original: err}
	}

	var out loginResponse
	// тело ошибки может быть не JSON - тогда используем статус
	_ = json.Unmarshal(raw, &out)

	switch {
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		return "", &ProviderError{
			Op:       "login",
			Code:     out.Code,
			Message:  nonEmpty(out.Message, http.StatusText(resp.StatusCode)),
			Original: ErrInvalidCredentials,
		}
	case resp.StatusCode != http.StatusOK:
		return "", &ProviderError{
			Op:      "login",
			Code:    strconv.Itoa(resp.StatusCode),
			Message: nonEmpty(out.Message, http.StatusText(resp.StatusCode)),
		}
	case out.SSID == "":
		return "", &ProviderError{Op: "login", Code: out.Code, Message: "empty ssid in response"}
	}

	return out.SSID, nil
}

// authenticator возвращает функцию аутентификации фида по ssid.
// Провайдер может прислать служебные сообщения до ответа на authenticate.
func (p *WSProvider) authenticator(ssid string) func(*websocket.Conn) error {
	return func(conn *websocket.Conn) error {
		if err := conn.WriteJSON(newAuthMessage(ssid, p.config.BrokerID)); err != nil {
			return err
		}

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return err
			}

			var env envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				continue
			}

			switch env.Name {
			case msgAuthenticated:
				var ok bool
				if err := json.Unmarshal(env.Msg, &ok); err == nil && !ok {
					return &ProviderError{Op: "authenticate", Message: "ssid rejected", Original: ErrInvalidCredentials}
				}
				return nil
			case msgUnauthorized:
				return &ProviderError{Op: "authenticate", Message: "ssid rejected", Original: ErrInvalidCredentials}
			}
		}
	}
}

// IsInvalidCredentials проверяет, что ошибка вызвана неверными учётными данными
func IsInvalidCredentials(err error) bool {
	return errors.Is(err, ErrInvalidCredentials)
}

func nonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

