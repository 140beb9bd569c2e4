// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/phtran-dev/spax/pkg/errors"
	"github.com/phtran-dev/spax/pkg/logger/log"
	"github.com/phtran-dev/spax/pkg/model/rest"
)

// HandleErrors renders the first error a handler attached to the context.
// Domain errors map onto HTTP statuses via errors.HTTPStatus; anything else
// renders as a 500 without leaking the internal message.
func HandleErrors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 {
			return
		}
		for i := range c.Errors {
			if i > 0 {
				log.GlobalLogger().WithContext(c).Errorf("error %v: %+v. This is a subsequent error in request. It should immediately return when the first error occurs", i, c.Errors[i].Error())
			}
		}

		err := c.Errors[0]
		if cError := errors.AsError(err.Err); cError != nil {
			log.GlobalLogger().WithContext(c).Errorf("Rest interface error FullPath %s RequestPath %s Code %d Message '%s' Error %+v Stack %v",
				c.FullPath(), c.Request.URL.Path, cError.Code, cError.Message, cError.InnerError, cError.GetStackString())
			c.AbortWithStatusJSON(errors.HTTPStatus(cError.Code), rest.ErrorResp(cError.Code, cError.Message, nil))
			return
		}
		log.GlobalLogger().WithContext(c).Errorf("Rest interface get unwrapped error.FullPath %s. RequestPath %s. Error %+v.",
			c.FullPath(), c.Request.URL.Path, err)
		c.AbortWithStatusJSON(errors.HTTPStatus(errors.InternalError), rest.ErrorResp(errors.InternalError, "Unknown error", nil))
	}
}
