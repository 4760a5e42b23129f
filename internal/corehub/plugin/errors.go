package plugin

import "github.com/scenehub/corehub/internal/platform/apierr"

func asAPIErr(err error) *apierr.Error {
	if ae, ok := err.(*apierr.Error); ok {
		return ae
	}
	return apierr.New(apierr.CodeCommandFailed, err.Error(), err)
}

func unavailableErr(toolID string) *apierr.Error {
	return apierr.New(apierr.CodeConnectionFailed, "plugin unavailable: "+toolID, nil)
}

func validationErr(errs []string) *apierr.Error {
	msg := "validation failed"
	if len(errs) > 0 {
		msg = errs[0]
	}
	return apierr.New(apierr.CodeValidationFailed, msg, nil)
}
