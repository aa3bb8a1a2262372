package webapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	rail "github.com/railpayorg/railpay/pkg"
)

var httpCodeForError = map[string]int{
	string(rail.BadRequest):    400,
	string(rail.NotAvailable):  503,
	string(rail.NotFound):      404,
	string(rail.AlreadyExists): 500,
	string(rail.UnknownError):  500,

	string(rail.InvalidAmount):    400,
	string(rail.AmountTooSmall):   400,
	string(rail.FeeExceedsAmount): 400,
	string(rail.AmountOutOfRange): 400,

	string(rail.AlreadyExpired):   410,
	string(rail.NotCancellable):   409,
	string(rail.ForwardingFailed): 502,

	string(rail.NoProvidersAvailable):  503,
	string(rail.InsufficientProviders): 422,
	string(rail.EstimationFailed):      502,
}

func HttpStatusForError(code rail.ErrorCode) int {
	status, found := httpCodeForError[string(code)]
	if !found {
		status = http.StatusInternalServerError
	}
	return status
}

func sendResponse(w http.ResponseWriter, payload any) {
	// note: w.Header after this, so we can call sendError
	b, err := json.Marshal(payload)
	if err != nil {
		sendErrorResponse(w, http.StatusInternalServerError, "marshal", fmt.Sprintf("in json.Marshal: %s", err.Error()))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store") // do not cache (Browsers cache GET forever by default)
	w.Write(b)
}

func sendBadRequest(w http.ResponseWriter, message string) {
	sendErrorResponse(w, http.StatusBadRequest, rail.BadRequest, message)
}

func sendError(w http.ResponseWriter, where string, err error) {
	var info *rail.ErrorInfo
	if errors.As(err, &info) {
		status := HttpStatusForError(info.Code)
		message := fmt.Sprintf("%s: %s", where, info.Message)
		sendErrorResponse(w, status, info.Code, message)
	} else {
		message := fmt.Sprintf("%s: %s", where, err.Error())
		sendErrorResponse(w, http.StatusInternalServerError, rail.UnknownError, message)
	}
}

func sendErrorResponse(w http.ResponseWriter, statusCode int, code rail.ErrorCode, message string) {
	log.Printf("[!] %s: %s\n", code, message)
	// would prefer to use json.Marshal, but this avoids the need
	// to handle encoding errors arising from json.Marshal itself!
	payload := fmt.Sprintf("{\"error\":{\"code\":%q,\"message\":%q}}", code, message)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store") // do not cache (Browsers cache GET forever by default)
	w.WriteHeader(statusCode)
	w.Write([]byte(payload))
}
