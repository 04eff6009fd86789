package nostd

import (
	"errors"

	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	zhTranslations "github.com/go-playground/validator/v10/translations/zh"
)

// CustomValidator echo 请求校验器，错误信息翻译为中文
type CustomValidator struct {
	Validator *validator.Validate
	trans     ut.Translator
}

// TransInit 初始化中文翻译器
func (cv *CustomValidator) TransInit() error {
	zhLocale := zh.New()
	uni := ut.New(zhLocale, zhLocale)
	trans, ok := uni.GetTranslator("zh")
	if !ok {
		return errors.New("failed to get zh translator")
	}
	if err := zhTranslations.RegisterDefaultTranslations(cv.Validator, trans); err != nil {
		return err
	}
	cv.trans = trans
	return nil
}

// Validate 执行校验，返回翻译后的第一条错误
func (cv *CustomValidator) Validate(i interface{}) error {
	if err := cv.Validator.Struct(i); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return err
		}
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) && cv.trans != nil {
			for _, fe := range fieldErrors {
				return errors.New(fe.Translate(cv.trans))
			}
		}
		return err
	}
	return nil
}
