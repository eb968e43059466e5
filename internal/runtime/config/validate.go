package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	errspkg "github.com/drblury/stonekit/internal/runtime/errors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and cross-field rules. All failures are joined
// and wrapped in a ConfigValidationError.
func (o *Options) Validate() error {
	if o == nil {
		return errspkg.ErrConfigRequired
	}

	var errs []error
	if err := validate.Struct(o); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				errs = append(errs, fmt.Errorf("%s: failed %q validation", fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, err)
		}
	}
	errs = append(errs, o.validateKernels()...)
	errs = append(errs, o.Transport.validate()...)

	return errspkg.NewConfigValidationError(errors.Join(errs...))
}

func (o *Options) validateKernels() []error {
	var errs []error
	active := o.ActiveKernel()
	if active != DefaultKernel {
		if _, ok := o.App.Kernels[active]; !ok {
			errs = append(errs, fmt.Errorf("app.kernel: %q is not declared in app.kernels", active))
		}
	}
	for name, kernel := range o.App.Kernels {
		if kernel.Middleware.Skip && (len(kernel.Middleware.Event) > 0 || len(kernel.Middleware.Response) > 0 || len(kernel.Middleware.Terminate) > 0) {
			errs = append(errs, fmt.Errorf("app.kernels.%s.middleware: skip cannot be combined with explicit middleware", name))
		}
	}
	return errs
}

// ValidateOptions validates a possibly nil pointer.
func ValidateOptions(o *Options) error {
	if o == nil {
		return errspkg.ErrConfigRequired
	}
	return o.Validate()
}
