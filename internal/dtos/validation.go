package dtos

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/varad2005/healthnova-consult/internal/utils"
)

// RegisterValidators installs the custom binding rules on gin's
// validator. Call once at startup, before the first request binds.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}

	return v.RegisterValidation("roomid", func(fl validator.FieldLevel) bool {
		return utils.IsRoomID(fl.Field().String())
	})
}
