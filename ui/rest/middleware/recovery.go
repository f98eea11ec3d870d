package middleware

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	pkgError "github.com/orbitalweb/ow-agent/pkg/error"
	"github.com/orbitalweb/ow-agent/pkg/utils"
)

// Recovery converts handler panics into structured error responses. Typed
// cache errors keep their code and status; anything else is a 500.
func Recovery() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		defer func() {
			if r := recover(); r != nil {
				res := utils.ResponseData{
					Status:  500,
					Code:    "INTERNAL_SERVER_ERROR",
					Message: fmt.Sprintf("%v", r),
				}

				if err, ok := r.(pkgError.GenericError); ok {
					res.Status = err.StatusCode()
					res.Code = err.ErrCode()
					res.Message = err.Error()
				} else {
					logrus.Errorf("[REST] panic recovered: %v", r)
				}

				_ = ctx.Status(res.Status).JSON(res)
			}
		}()

		return ctx.Next()
	}
}
